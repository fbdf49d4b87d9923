package adldap

// TypeCode is the connector_types code this package implements.
const TypeCode = "ad_ldap"

// Definition registers the ad_ldap connector type.
type Definition struct{}

func (Definition) Code() string        { return TypeCode }
func (Definition) DisplayName() string { return "Active Directory (LDAP)" }

func (Definition) ValidateConfig(cfg map[string]any) error {
	parsed, err := ParseConfig(cfg)
	if err != nil {
		return err
	}
	return parsed.Validate()
}
