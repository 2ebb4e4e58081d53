// Package ws streams public lot changes to connected browsers.
// messages.go defines the frames pushed to clients.
package ws

import (
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeLotUpdate MsgType = "lot_update"
	MsgTypeError     MsgType = "error"
)

// LotUpdateMessage carries the public state of a lot after a committed
// change. Leading is true only on sockets authenticated as the current leader;
// no frame ever carries a bid ceiling or the leader's identity.
type LotUpdateMessage struct {
	Type         MsgType          `json:"type"`
	LotID        uuid.UUID        `json:"lot_id"`
	CurrentPrice decimal.Decimal  `json:"current_price"`
	EndsAt       time.Time        `json:"ends_at"`
	Status       domain.LotStatus `json:"status"`
	BidCount     int              `json:"bid_count"`
	Version      int64            `json:"version"`
	Leading      bool             `json:"leading"`
}

func newLotUpdate(ch domain.LotChange, leading bool) LotUpdateMessage {
	return LotUpdateMessage{
		Type:         MsgTypeLotUpdate,
		LotID:        ch.LotID,
		CurrentPrice: ch.CurrentPrice,
		EndsAt:       ch.EndsAt,
		Status:       ch.Status,
		BidCount:     ch.BidCount,
		Version:      ch.Version,
		Leading:      leading,
	}
}

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
