package domain

import (
	"strings"
	"time"
)

type RepaymentFrequency string

const (
	RepaymentOneTime   RepaymentFrequency = "one_time"
	RepaymentWeekly    RepaymentFrequency = "weekly"
	RepaymentMonthly   RepaymentFrequency = "monthly"
	RepaymentQuarterly RepaymentFrequency = "quarterly"
)

type RepaymentType string

const (
	RepaymentCard         RepaymentType = "card"
	RepaymentBankTransfer RepaymentType = "bank_transfer"
	RepaymentDirectDebit  RepaymentType = "direct_debit"
)

// BankAccount fields are all optional; either an IBAN or a domestic
// account number plus bank code identifies the account.
type BankAccount struct {
	Prefix        string `json:"prefix,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	IBAN          string `json:"iban,omitempty"`
	BIC           string `json:"bic,omitempty"`
}

func (b BankAccount) identified() bool {
	return b.IBAN != "" || (b.AccountNumber != "" && b.BankCode != "")
}

type RepaymentPreferences struct {
	ID          string
	CustomerID  string
	OrderID     string
	Frequency   RepaymentFrequency
	Type        RepaymentType
	BankAccount *BankAccount
	UpdatedAt   time.Time
}

type RepaymentParams struct {
	ID          string
	Order       Order
	CustomerID  string
	Frequency   RepaymentFrequency
	Type        RepaymentType
	BankAccount *BankAccount
	At          time.Time
}

func NewRepaymentPreferences(p RepaymentParams) (RepaymentPreferences, RepaymentPreferencesSetEvent, error) {
	fail := func(err error) (RepaymentPreferences, RepaymentPreferencesSetEvent, error) {
		return RepaymentPreferences{}, RepaymentPreferencesSetEvent{}, err
	}
	if strings.TrimSpace(p.ID) == "" {
		return fail(NewValidationError("preferences id is required"))
	}
	if p.CustomerID != p.Order.CustomerID {
		return fail(NewValidationError("order %s does not belong to customer %s", p.Order.ID, p.CustomerID))
	}
	switch p.Frequency {
	case RepaymentOneTime, RepaymentWeekly, RepaymentMonthly, RepaymentQuarterly:
	default:
		return fail(NewValidationError("unknown repayment frequency %q", p.Frequency))
	}
	switch p.Type {
	case RepaymentCard:
	case RepaymentBankTransfer, RepaymentDirectDebit:
		if p.BankAccount == nil || !p.BankAccount.identified() {
			return fail(NewValidationError("%s requires an IBAN or account number with bank code", p.Type))
		}
	default:
		return fail(NewValidationError("unknown repayment type %q", p.Type))
	}

	prefs := RepaymentPreferences{
		ID:         p.ID,
		CustomerID: p.CustomerID,
		OrderID:    p.Order.ID,
		Frequency:  p.Frequency,
		Type:       p.Type,
		UpdatedAt:  p.At.UTC(),
	}
	if p.BankAccount != nil {
		acct := *p.BankAccount
		prefs.BankAccount = &acct
	}
	return prefs, RepaymentPreferencesSetEvent{
		EventMeta:     EventMeta{OrderID: prefs.OrderID, Version: p.Order.Version, At: prefs.UpdatedAt},
		PreferencesID: prefs.ID,
		CustomerID:    prefs.CustomerID,
		Frequency:     prefs.Frequency,
		Type:          prefs.Type,
	}, nil
}
