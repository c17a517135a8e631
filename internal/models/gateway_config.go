package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"
)

// GatewayType identifies one of the supported payment providers.
type GatewayType string

const (
	GatewayMidtrans    GatewayType = "midtrans"
	GatewayXendit      GatewayType = "xendit"
	GatewayNOWPayments GatewayType = "nowpayments"
)

// GatewayTypes is the closed set of provider variants.
var GatewayTypes = []GatewayType{GatewayMidtrans, GatewayNOWPayments, GatewayXendit}

// ParseGatewayType validates a gateway name coming from configuration or routing.
func ParseGatewayType(raw string) (GatewayType, bool) {
	for _, t := range GatewayTypes {
		if string(t) == raw {
			return t, true
		}
	}
	return "", false
}

// Environment selects provider sandbox or production endpoints.
type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

// PaymentMethod is the canonical payment instrument family.
type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodEWallet      PaymentMethod = "ewallet"
	MethodQRIS         PaymentMethod = "qris"
	MethodCrypto       PaymentMethod = "crypto"
)

// TenantGatewayConfig maps to the `tenant_gateway_configs` table.
// Credentials are opaque to everything but the adapter for GatewayType.
type TenantGatewayConfig struct {
	ID               uint              `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TenantID         string            `gorm:"column:tenant_id;size:64;not null;uniqueIndex:idx_tenant_gateway" json:"tenant_id"`
	GatewayType      GatewayType       `gorm:"column:gateway_type;size:32;not null;uniqueIndex:idx_tenant_gateway" json:"gateway_type"`
	Environment      Environment       `gorm:"column:environment;size:16;not null;default:sandbox" json:"environment"`
	Credentials      datatypes.JSONMap `gorm:"column:credentials" json:"-"`
	SupportedMethods datatypes.JSON    `gorm:"column:supported_methods" json:"supported_methods"`
	Fees             datatypes.JSONMap `gorm:"column:fees" json:"fees"`
	Priority         int               `gorm:"column:priority;not null;default:100" json:"priority"`
	IsActive         bool              `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt        time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

func (TenantGatewayConfig) TableName() string {
	return "tenant_gateway_configs"
}

// Methods decodes the supported method set. Malformed JSON yields no methods.
func (c *TenantGatewayConfig) Methods() []PaymentMethod {
	if len(c.SupportedMethods) == 0 {
		return nil
	}
	var methods []PaymentMethod
	if err := json.Unmarshal(c.SupportedMethods, &methods); err != nil {
		return nil
	}
	return methods
}

// SetMethods encodes the supported method set, sorted for stable storage.
func (c *TenantGatewayConfig) SetMethods(methods []PaymentMethod) {
	sorted := append([]PaymentMethod(nil), methods...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	raw, _ := json.Marshal(sorted)
	c.SupportedMethods = datatypes.JSON(raw)
}

// Supports reports whether the gateway accepts the given method.
func (c *TenantGatewayConfig) Supports(method PaymentMethod) bool {
	for _, m := range c.Methods() {
		if m == method {
			return true
		}
	}
	return false
}

// CredentialValues flattens the credential bag into strings.
func (c *TenantGatewayConfig) CredentialValues() map[string]string {
	out := make(map[string]string, len(c.Credentials))
	for k, v := range c.Credentials {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

// Clone returns a deep copy so cached configs are never shared with callers.
func (c *TenantGatewayConfig) Clone() TenantGatewayConfig {
	cp := *c
	if c.Credentials != nil {
		cp.Credentials = make(datatypes.JSONMap, len(c.Credentials))
		for k, v := range c.Credentials {
			cp.Credentials[k] = v
		}
	}
	if c.Fees != nil {
		cp.Fees = make(datatypes.JSONMap, len(c.Fees))
		for k, v := range c.Fees {
			cp.Fees[k] = v
		}
	}
	if c.SupportedMethods != nil {
		cp.SupportedMethods = append(datatypes.JSON(nil), c.SupportedMethods...)
	}
	return cp
}
