package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"mlm-network/internal/models"
)

// MessageSender is the part of *telego.Bot the notifier needs.
type MessageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

var txLabels = map[models.TxType]string{
	models.TxSelfIncome:       "Self activation income",
	models.TxDirectIncome:     "Direct referral income",
	models.TxMatrixIncome:     "Matrix income",
	models.TxDailyIncome:      "Daily income",
	models.TxDailyTeamIncome:  "Daily team income",
	models.TxRankReward:       "Rank reward",
	models.TxInvestmentReturn: "Investment return",
	models.TxRefund:           "Withdrawal refund",
}

// Notifier tells members about money arriving in their wallet.
type Notifier struct {
	sender MessageSender
}

func NewNotifier(sender MessageSender) *Notifier {
	return &Notifier{sender: sender}
}

func (n *Notifier) Posted(ctx context.Context, member models.Member, t models.Transaction) error {
	if member.TelegramID == 0 || !t.Amount.IsPositive() {
		return nil
	}

	label, ok := txLabels[t.Type]
	if !ok {
		label = string(t.Type)
	}
	if t.Level != nil {
		label = fmt.Sprintf("%s (level %d)", label, *t.Level)
	}

	text := fmt.Sprintf("💰 %s: +₹%s\nBalance: ₹%s", label, t.Amount.StringFixed(2), t.BalanceAfter.StringFixed(2))
	_, err := n.sender.SendMessage(ctx, tu.Message(tu.ID(member.TelegramID), text))
	return err
}
