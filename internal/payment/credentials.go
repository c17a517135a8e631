package payment

import (
	"fmt"
	"sort"

	"paygate/internal/models"
)

var requiredCredentials = map[models.GatewayType][]string{
	models.GatewayMidtrans:    {"server_key"},
	models.GatewayXendit:      {"secret_key", "callback_token"},
	models.GatewayNOWPayments: {"api_key", "ipn_secret"},
}

// Credentials is an opaque credential bag tagged with the gateway it belongs
// to. Only the adapter for Gateway reads individual values.
type Credentials struct {
	Gateway     models.GatewayType
	Environment models.Environment
	values      map[string]string
}

// NewCredentials copies values into a credentials snapshot.
func NewCredentials(gateway models.GatewayType, env models.Environment, values map[string]string) Credentials {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	if env == "" {
		env = models.EnvSandbox
	}
	return Credentials{Gateway: gateway, Environment: env, values: cp}
}

// Get returns a single credential value.
func (c Credentials) Get(key string) string {
	return c.values[key]
}

// Validate checks that every key the gateway requires is present.
func (c Credentials) Validate() error {
	required, ok := requiredCredentials[c.Gateway]
	if !ok {
		return &UnsupportedGatewayError{Gateway: string(c.Gateway)}
	}
	var missing []string
	for _, key := range required {
		if c.values[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &IncompleteCredentialsError{Gateway: c.Gateway, Missing: missing}
	}
	return nil
}

// String never prints secret material.
func (c Credentials) String() string {
	return fmt.Sprintf("credentials(%s/%s, %d keys redacted)", c.Gateway, c.Environment, len(c.values))
}

// GoString keeps %#v from dumping the map.
func (c Credentials) GoString() string {
	return c.String()
}

// RequiredCredentials lists the keys a gateway needs.
func RequiredCredentials(gateway models.GatewayType) []string {
	return append([]string(nil), requiredCredentials[gateway]...)
}
