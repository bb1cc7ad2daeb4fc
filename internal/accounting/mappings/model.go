package mappings

import "time"

// AccountMapping links posting rule keys to ledger account codes.
type AccountMapping struct {
	Module      string    `json:"module" mapstructure:"module"`
	Key         string    `json:"key" mapstructure:"key"`
	AccountCode string    `json:"account_code" mapstructure:"account_code"`
	CreatedAt   time.Time `json:"created_at" mapstructure:"-"`
	UpdatedAt   time.Time `json:"updated_at" mapstructure:"-"`
}
