package domain

import "time"

type AccountRole string

const (
	RoleMain AccountRole = "main"
	RoleSub  AccountRole = "sub"
)

// Credentials is one exchange API key pair.
type Credentials struct {
	APIKey    string
	APISecret string
}

func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// Account is a row from the accounts table. The CRUD that writes this table
// lives outside the worker; here it is read-only input.
type Account struct {
	ID             int64       `gorm:"primaryKey;autoIncrement"`
	Name           string      `gorm:"column:account_name;uniqueIndex"`
	Role           AccountRole `gorm:"column:role"`
	APIKey         string      `gorm:"column:api_key"`
	APISecret      string      `gorm:"column:api_secret"`
	RiskPercentage float64     `gorm:"column:risk_percentage"`
	Leverage       float64     `gorm:"column:leverage"`
	IsActive       bool        `gorm:"column:is_active"`
	CreatedAt      time.Time   `gorm:"column:created_at"`
	LastUpdated    time.Time   `gorm:"column:last_updated;autoUpdateTime"`
}

func (Account) TableName() string { return "accounts" }

func (a *Account) Credentials() Credentials {
	return Credentials{APIKey: a.APIKey, APISecret: a.APISecret}
}

// AccountRef is an account resolved for execution: either the main account or
// a sub-account, with its gateway handle and exchange UID already fetched.
// Having one type for both removes the scattered `if account != "main"`
// branching the alert flow would otherwise need.
type AccountRef struct {
	Name    string
	Role    AccountRole
	UID     string
	Gateway Gateway
}

func (r AccountRef) IsMain() bool { return r.Role == RoleMain }
