// Package membership registers members under a referral code and activates
// them with one-time activation codes (TPINs).
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"mlm-network/internal/ledger"
	"mlm-network/internal/logging"
	"mlm-network/internal/models"
	"mlm-network/internal/store"
)

const MaxCodesPerRequest = 10

var (
	ErrInvalidReferralCode   = errors.New("invalid referral code")
	ErrReferrerInactive      = errors.New("referrer is not active")
	ErrInvalidActivationCode = errors.New("invalid activation code")
	ErrAlreadyActive         = errors.New("member is already active")
	ErrMemberBlocked         = errors.New("member is blocked")
	ErrNotBlocked            = errors.New("member is not blocked")
	ErrCodeCount             = fmt.Errorf("activation codes are issued 1 to %d at a time", MaxCodesPerRequest)
)

// Activator is told about every member that became active.
type Activator interface {
	OnMemberActivated(ctx context.Context, memberID string) error
}

type Service struct {
	store     store.Store
	ledger    *ledger.Ledger
	activator Activator
	log       *logging.Logger
}

func New(s store.Store, l *ledger.Ledger, a Activator, log *logging.Logger) *Service {
	return &Service{
		store:     s,
		ledger:    l,
		activator: a,
		log:       log.Named("membership"),
	}
}

// Register creates an inactive member. A non-empty referralCode must belong
// to an active member, who becomes the referrer for good.
func (s *Service) Register(ctx context.Context, name string, telegramID int64, referralCode string) (*models.Member, error) {
	m := &models.Member{
		ID:         uuid.NewString(),
		Name:       name,
		TelegramID: telegramID,
		Rank:       models.RankNewcomer,
	}

	if code := strings.TrimSpace(referralCode); code != "" {
		referrer, err := s.store.MemberByReferralCode(ctx, strings.ToUpper(code))
		if errors.Is(err, store.ErrMemberNotFound) {
			return nil, ErrInvalidReferralCode
		}
		if err != nil {
			return nil, err
		}
		if !referrer.IsActive {
			return nil, ErrReferrerInactive
		}
		m.ReferrerID = &referrer.ID
	}

	if err := s.store.CreateMember(ctx, m); err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}

	s.log.Info("member registered", logging.MemberID(m.ID), logging.String("name", name))
	return m, nil
}

// IssueCodes creates n approved activation codes owned by ownerID.
func (s *Service) IssueCodes(ctx context.Context, ownerID string, n int, reason string) ([]models.ActivationCode, error) {
	if n < 1 || n > MaxCodesPerRequest {
		return nil, ErrCodeCount
	}

	var codes []models.ActivationCode
	err := s.ledger.Update(ctx, ownerID, func(p *ledger.Posting) error {
		codes = codes[:0]
		for i := 0; i < n; i++ {
			c := &models.ActivationCode{
				Code:    newCode("", 12),
				OwnerID: ownerID,
				Status:  models.CodeStatusApproved,
				Reason:  reason,
			}
			if err := p.SaveActivationCode(c); err != nil {
				return err
			}
			codes = append(codes, *c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("activation codes issued", logging.MemberID(ownerID), logging.Int("count", n))
	return codes, nil
}

// Activate redeems code for memberID. The code is consumed, the member made
// active and given a referral code in one update; then commissions are
// distributed. Commission failures are logged only, since activation stands
// on its own and OnMemberActivated can be run again.
func (s *Service) Activate(ctx context.Context, memberID, code string) (*models.Member, error) {
	var activated models.Member
	err := s.ledger.Update(ctx, memberID, func(p *ledger.Posting) error {
		m := p.Member()
		if m.Blocked {
			return ErrMemberBlocked
		}
		if m.IsActive {
			return ErrAlreadyActive
		}

		c, err := p.ActivationCode(strings.ToUpper(strings.TrimSpace(code)))
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidActivationCode
		}
		if err != nil {
			return err
		}
		if c.Status != models.CodeStatusApproved {
			return ErrInvalidActivationCode
		}

		now := s.ledger.Now()
		c.Status = models.CodeStatusUsed
		c.UsedAt = &now
		if err := p.SaveActivationCode(c); err != nil {
			return err
		}

		m.IsActive = true
		m.ActivatedAt = &now
		if m.ReferralCode == nil {
			rc := newCode(namePrefix(m.Name), 8)
			m.ReferralCode = &rc
		}
		activated = *m
		return p.SaveMember()
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("member activated", logging.MemberID(memberID))
	if err := s.activator.OnMemberActivated(ctx, memberID); err != nil {
		s.log.Error("commission distribution incomplete", logging.MemberID(memberID), logging.Error(err))
	}
	return &activated, nil
}

// Block stops a member from using the bot and from receiving daily income.
// Commissions from the rest of the tree keep flowing.
func (s *Service) Block(ctx context.Context, memberID, reason string) (*models.Member, error) {
	var blocked models.Member
	err := s.store.Update(ctx, memberID, func(tx store.Tx) error {
		m := tx.Member()
		if m.Blocked {
			return ErrMemberBlocked
		}
		now := s.ledger.Now()
		m.Blocked = true
		m.BlockReason = strings.TrimSpace(reason)
		m.BlockedAt = &now
		blocked = *m
		return tx.SaveMember()
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("member blocked", logging.MemberID(memberID), logging.String("reason", blocked.BlockReason))
	return &blocked, nil
}

func (s *Service) Unblock(ctx context.Context, memberID string) (*models.Member, error) {
	var unblocked models.Member
	err := s.store.Update(ctx, memberID, func(tx store.Tx) error {
		m := tx.Member()
		if !m.Blocked {
			return ErrNotBlocked
		}
		m.Blocked = false
		m.BlockReason = ""
		m.BlockedAt = nil
		unblocked = *m
		return tx.SaveMember()
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("member unblocked", logging.MemberID(memberID))
	return &unblocked, nil
}

func namePrefix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if b.Len() == 3 {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func newCode(prefix string, length int) string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return (prefix + raw)[:length]
}
