// Package bot is the members' Telegram front end: registration through
// referral links, activation, wallet overview, withdrawals and investments.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/shopspring/decimal"

	"mlm-network/internal/commission"
	"mlm-network/internal/investment"
	"mlm-network/internal/ledger"
	"mlm-network/internal/logging"
	"mlm-network/internal/membership"
	"mlm-network/internal/models"
	"mlm-network/internal/store"
	"mlm-network/internal/withdrawal"
)

type Bot struct {
	Instance    *telego.Bot
	Store       store.Store
	Members     *membership.Service
	Engine      *commission.Engine
	Investments *investment.Service

	log *logging.Logger
}

func NewBot(instance *telego.Bot, s store.Store, members *membership.Service, engine *commission.Engine, investments *investment.Service, log *logging.Logger) *Bot {
	return &Bot{
		Instance:    instance,
		Store:       s,
		Members:     members,
		Engine:      engine,
		Investments: investments,
		log:         log.Named("bot"),
	}
}

// Start long-polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := b.newHandler(updates)
	if err != nil {
		return err
	}

	b.log.Info("telegram bot started")
	return b.serve(handler)
}

// newHandler routes every member command to its reply function.
func (b *Bot) newHandler(updates <-chan telego.Update) (*th.BotHandler, error) {
	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot handler: %w", err)
	}

	commands := map[string]func(ctx context.Context, from *telego.User, args []string) string{
		"start": func(ctx context.Context, from *telego.User, args []string) string {
			return b.startReply(ctx, from.ID, displayName(from), firstArg(args))
		},
		"activate": func(ctx context.Context, from *telego.User, args []string) string {
			return b.activateReply(ctx, from.ID, firstArg(args))
		},
		"balance": func(ctx context.Context, from *telego.User, _ []string) string {
			return b.balanceReply(ctx, from.ID)
		},
		"withdraw": func(ctx context.Context, from *telego.User, args []string) string {
			return b.withdrawReply(ctx, from.ID, args)
		},
		"invest": func(ctx context.Context, from *telego.User, _ []string) string {
			return b.investReply(ctx, from.ID)
		},
	}

	for name, reply := range commands {
		handler.Handle(func(ctx *th.Context, update telego.Update) error {
			message := update.Message
			args := strings.Fields(message.Text)[1:]
			text := reply(ctx.Context(), message.From, args)
			_, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), text))
			if err != nil {
				b.log.Warn("failed to send reply", logging.String("command", name), logging.Error(err))
			}
			return nil
		}, th.CommandEqual(name))
	}

	return handler, nil
}

// serve blocks until the update channel closes.
func (b *Bot) serve(handler *th.BotHandler) error {
	if err := handler.Start(); err != nil {
		return fmt.Errorf("bot handler stopped: %w", err)
	}
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func displayName(u *telego.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

func (b *Bot) member(ctx context.Context, telegramID int64) (*models.Member, string) {
	m, err := b.Store.MemberByTelegramID(ctx, telegramID)
	if errors.Is(err, store.ErrMemberNotFound) {
		return nil, "👤 You are not registered yet. Send /start to join."
	}
	if err != nil {
		b.log.Error("member lookup failed", logging.Error(err))
		return nil, "❌ Something went wrong, please try again later."
	}
	if m.Blocked {
		return nil, blockedReply(m)
	}
	return m, ""
}

func blockedReply(m *models.Member) string {
	msg := "🚫 Your account is blocked."
	if m.BlockReason != "" {
		msg += " Reason: " + m.BlockReason
	}
	return msg
}

func (b *Bot) startReply(ctx context.Context, telegramID int64, name, referralCode string) string {
	if m, err := b.Store.MemberByTelegramID(ctx, telegramID); err == nil {
		if m.Blocked {
			return blockedReply(m)
		}
		return fmt.Sprintf("👋 Welcome back, %s! Send /balance to see your wallet.", m.Name)
	}

	m, err := b.Members.Register(ctx, name, telegramID, referralCode)
	switch {
	case errors.Is(err, membership.ErrInvalidReferralCode):
		return "❌ This referral code does not exist."
	case errors.Is(err, membership.ErrReferrerInactive):
		return "❌ This referral code belongs to an inactive member."
	case err != nil:
		b.log.Error("registration failed", logging.Error(err))
		return "❌ Registration failed, please try again later."
	}

	msg := fmt.Sprintf("✅ Welcome, %s! Your member id is %s.\nActivate your account with /activate <code>.", name, m.ID)
	if m.HasReferrer() {
		msg += "\nYou joined through a referral link."
	}
	return msg
}

func (b *Bot) activateReply(ctx context.Context, telegramID int64, code string) string {
	m, reply := b.member(ctx, telegramID)
	if m == nil {
		return reply
	}
	if code == "" {
		return "Usage: /activate <code>"
	}

	activated, err := b.Members.Activate(ctx, m.ID, code)
	switch {
	case errors.Is(err, membership.ErrMemberBlocked):
		return blockedReply(m)
	case errors.Is(err, membership.ErrAlreadyActive):
		return "ℹ️ Your account is already active."
	case errors.Is(err, membership.ErrInvalidActivationCode):
		return "❌ This activation code is not valid."
	case err != nil:
		b.log.Error("activation failed", logging.MemberID(m.ID), logging.Error(err))
		return "❌ Activation failed, please try again later."
	}
	return fmt.Sprintf("🚀 Account activated! Your referral code is %s.", *activated.ReferralCode)
}

func (b *Bot) balanceReply(ctx context.Context, telegramID int64) string {
	m, reply := b.member(ctx, telegramID)
	if m == nil {
		return reply
	}
	w, err := b.Store.Wallet(ctx, m.ID)
	if err != nil {
		b.log.Error("wallet lookup failed", logging.MemberID(m.ID), logging.Error(err))
		return "❌ Something went wrong, please try again later."
	}
	levels, err := b.Store.MatrixLevels(ctx, m.ID)
	if err != nil {
		b.log.Error("matrix lookup failed", logging.MemberID(m.ID), logging.Error(err))
		return "❌ Something went wrong, please try again later."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "👤 %s · %s\n", m.Name, m.Rank)
	if m.ReferralCode != nil {
		fmt.Fprintf(&sb, "🔗 Referral code: %s\n", *m.ReferralCode)
	}
	fmt.Fprintf(&sb, "\n💰 Balance: ₹%s\n", w.Balance.StringFixed(2))
	for _, row := range []struct {
		label string
		value decimal.Decimal
	}{
		{"Self income", w.SelfIncome},
		{"Direct income", w.DirectIncome},
		{"Matrix income", w.MatrixIncome},
		{"Daily income", w.DailyIncome},
		{"Daily team income", w.DailyTeamIncome},
		{"Rank rewards", w.RankRewards},
		{"Investment income", w.InvestmentIncome},
		{"Total earnings", w.TotalEarnings},
		{"Withdrawn", w.WithdrawnAmount},
	} {
		fmt.Fprintf(&sb, "%s: ₹%s\n", row.label, row.value.StringFixed(2))
	}

	tracker := b.Engine.Matrix()
	if len(levels) > 0 {
		sb.WriteString("\n🧩 Matrix\n")
	}
	for _, l := range levels {
		mark := "⏳"
		if l.Completed {
			mark = "✅"
		}
		fmt.Fprintf(&sb, "%s Level %d: %d/%d\n", mark, l.Level, l.ActiveCount, tracker.Capacity(l.Level))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) withdrawReply(ctx context.Context, telegramID int64, args []string) string {
	m, reply := b.member(ctx, telegramID)
	if m == nil {
		return reply
	}
	if len(args) != 2 {
		return "Usage: /withdraw <amount> <upi|bank>"
	}
	amount, err := decimal.NewFromString(args[0])
	if err != nil {
		return "❌ Amount must be a number."
	}

	w, err := b.Engine.OnWithdrawalRequested(ctx, m.ID, amount, strings.ToLower(args[1]))
	switch {
	case errors.Is(err, withdrawal.ErrBelowMinimum):
		return "❌ This amount is below the minimum withdrawal."
	case errors.Is(err, withdrawal.ErrInvalidMethod):
		return "❌ Choose upi or bank."
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "❌ Amount must be positive, in rupees and paise (at most two decimals)."
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "❌ Insufficient balance."
	case err != nil:
		b.log.Error("withdrawal failed", logging.MemberID(m.ID), logging.Error(err))
		return "❌ Withdrawal failed, please try again later."
	}
	return fmt.Sprintf("🏦 Withdrawal of ₹%s requested (id %s). It will be processed by an administrator.", w.Amount.StringFixed(2), w.ID)
}

func (b *Bot) investReply(ctx context.Context, telegramID int64) string {
	m, reply := b.member(ctx, telegramID)
	if m == nil {
		return reply
	}

	inv, err := b.Investments.Purchase(ctx, m.ID)
	switch {
	case errors.Is(err, investment.ErrInactiveMember):
		return "❌ Activate your account before investing."
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "❌ Insufficient balance for the investment package."
	case err != nil:
		b.log.Error("investment failed", logging.MemberID(m.ID), logging.Error(err))
		return "❌ Investment failed, please try again later."
	}
	return fmt.Sprintf("📈 Investment of ₹%s opened. It pays ₹%s on %s.",
		inv.Amount.StringFixed(2), inv.ExpectedReturn.StringFixed(2), inv.MaturesAt.Format("02 Jan 2006"))
}
