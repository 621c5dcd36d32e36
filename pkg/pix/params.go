package pix

import (
	"strings"
	"time"

	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
)

// ChargeCreateParams describes an immediate charge registration.
type ChargeCreateParams struct {
	// TxID is optional; a random one is generated when empty.
	TxID        string
	AmountCents int64
	Expiry      time.Duration
	Description string
}

func (p ChargeCreateParams) validate() error {
	if p.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "charge amount must be positive")
	}
	if p.Expiry <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "charge expiry must be positive")
	}
	return nil
}

// Charge is the gateway's view of a registered cob.
type Charge struct {
	TxID        string
	Status      string
	AmountCents int64
	QRCode      string
	EndToEndID  string
}

// RefundParams describes a devolution against a settled charge.
type RefundParams struct {
	EndToEndID  string
	RefundID    string
	AmountCents int64
}

func (p RefundParams) validate() error {
	if strings.TrimSpace(p.EndToEndID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "end-to-end id is required")
	}
	if p.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	return nil
}

// Refund is the gateway's view of a devolution.
type Refund struct {
	ID          string
	Status      string
	AmountCents int64
}

// CashOutParams describes an outbound transfer to an external Pix key.
type CashOutParams struct {
	IdempotencyKey string
	DestinationKey string
	AmountCents    int64
	Description    string
}

func (p CashOutParams) validate() error {
	if strings.TrimSpace(p.IdempotencyKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if strings.TrimSpace(p.DestinationKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "destination pix key is required")
	}
	if p.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cash out amount must be positive")
	}
	return nil
}

// CashOut is the gateway's view of an outbound transfer.
type CashOut struct {
	EndToEndID  string
	Status      string
	AmountCents int64
}

type chargeResponse struct {
	TxID   string `json:"txid"`
	Status string `json:"status"`
	Valor  struct {
		Original string `json:"original"`
	} `json:"valor"`
	PixCopiaECola string `json:"pixCopiaECola"`
	Pix           []struct {
		EndToEndID string `json:"endToEndId"`
	} `json:"pix"`
}

func (r chargeResponse) toCharge() *Charge {
	charge := &Charge{
		TxID:        r.TxID,
		Status:      r.Status,
		AmountCents: mustAmountToCents(r.Valor.Original),
		QRCode:      r.PixCopiaECola,
	}
	if len(r.Pix) > 0 {
		charge.EndToEndID = r.Pix[0].EndToEndID
	}
	return charge
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Valor  string `json:"valor"`
}

func (r refundResponse) toRefund() *Refund {
	return &Refund{
		ID:          r.ID,
		Status:      r.Status,
		AmountCents: mustAmountToCents(r.Valor),
	}
}

type cashOutResponse struct {
	EndToEndID string `json:"e2eId"`
	Status     string `json:"status"`
	Valor      string `json:"valor"`
}

func (r cashOutResponse) toCashOut() *CashOut {
	return &CashOut{
		EndToEndID:  r.EndToEndID,
		Status:      r.Status,
		AmountCents: mustAmountToCents(r.Valor),
	}
}
