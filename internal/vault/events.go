package vault

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"
)

// EventKind names a vault event.
type EventKind string

// Vault events.
const (
	EventDeposit        EventKind = "Deposit"
	EventWithdraw       EventKind = "Withdraw"
	EventDepositLp      EventKind = "DepositLp"
	EventWithdrawLp     EventKind = "WithdrawLp"
	EventDepositSingle  EventKind = "DepositSingle"
	EventWithdrawSingle EventKind = "WithdrawSingle"
	EventWhitelistAdded EventKind = "WhitelistAdded"
)

// Event is an observable record of a completed operation.
//
// Deposit and Withdraw carry Pid; DepositLp and WithdrawLp carry the LP token
// in Asset; DepositSingle and WithdrawSingle carry the input or output asset
// in Asset; WhitelistAdded carries only Asset.
type Event struct {
	Seq     uint64         `json:"seq"`
	Kind    EventKind      `json:"event"`
	Account common.Address `json:"account"`
	Pid     uint64         `json:"pid"`
	Asset   common.Address `json:"asset"`
	Amount  *uint256.Int   `json:"amount"`
	Time    int64          `json:"time"`
}

// String renders the event in call form, e.g. Deposit(0xabc…, 4, 100).
func (ev Event) String() string {
	switch ev.Kind {
	case EventDeposit, EventWithdraw:
		return fmt.Sprintf("%s(%s, %d, %s)", ev.Kind, ev.Account.Hex(), ev.Pid, amountString(ev.Amount))
	case EventWhitelistAdded:
		return fmt.Sprintf("%s(%s)", ev.Kind, ev.Asset.Hex())
	default:
		return fmt.Sprintf("%s(%s, %s, %s)", ev.Kind, ev.Account.Hex(), ev.Asset.Hex(), amountString(ev.Amount))
	}
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// SubscribeEvents delivers every future event to ch. The channel should be
// drained promptly: delivery blocks the emitting operation.
func (e *Engine) SubscribeEvents(ch chan<- Event) event.Subscription {
	return e.feed.Subscribe(ch)
}

// Events returns up to limit stored events starting at sequence from.
func (e *Engine) Events(from uint64, limit int) ([]Event, error) {
	var out []Event
	err := e.events.Range(from, limit, func(seq uint64, data []byte) error {
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode event %d: %w", seq, err)
		}
		out = append(out, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// emit persists ev and fans it out to subscribers. The operation that
// produced it has already committed, so a persistence failure is logged
// rather than returned.
func (e *Engine) emit(ev Event) {
	ev.Time = e.now().Unix()
	if ev.Amount != nil {
		ev.Amount = ev.Amount.Clone()
	}
	if _, err := e.events.Append(&ev, func(seq uint64) { ev.Seq = seq }); err != nil {
		e.logger.Error().Err(err).Str("event", string(ev.Kind)).Msg("Failed to persist event")
	}
	e.feed.Send(ev)
}
