// Package billing provides optional, best-effort metered-bandwidth billing
// for tunnels. Nothing here sits on the request path: a tunnel works the
// same whether or not billing is configured.
package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Plan describes how a tunnel's bandwidth is billed.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPAYG Plan = "payg"
	PlanPro  Plan = "pro"
)

// FreeTierBytes is the free tier bandwidth limit (5GB) per tunnel per month.
const FreeTierBytes int64 = 5 * 1024 * 1024 * 1024

// UsageRecord is one bandwidth sample for a tunnel.
type UsageRecord struct {
	ID               int64
	TunnelID         string
	BytesIn          int64
	BytesOut         int64
	RecordedAt       time.Time
	SyncedToBilling  bool
}

// TunnelBilling associates a tunnel with a Stripe customer/subscription, set
// once the tunnel owner opts into metered billing.
type TunnelBilling struct {
	TunnelID           string
	StripeCustomerID   string
	StripeSubscription string
	Plan               Plan
}

// Service handles billing operations. It is entirely optional. Methods that
// only touch the database do nothing when db is nil; UpgradeToPAYG returns an
// error without a db, and the Stripe calls need a configured Stripe key.
type Service struct {
	db     *sql.DB
	stripe *StripeClient
}

// NewService creates a Service. stripeKey may be empty to disable Stripe
// integration while still recording bandwidth for later inspection.
func NewService(db *sql.DB, stripeKey string) *Service {
	var stripeClient *StripeClient
	if stripeKey != "" {
		stripeClient = NewStripeClient(stripeKey)
	}
	return &Service{db: db, stripe: stripeClient}
}

// RecordBandwidth inserts one bandwidth_usage row for tunnelID. It does
// nothing when db is nil.
func (s *Service) RecordBandwidth(ctx context.Context, tunnelID string, bytesIn, bytesOut int64) error {
	if s.db == nil {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bandwidth_usage (tunnel_id, bytes_in, bytes_out, recorded_at)
		VALUES ($1, $2, $3, NOW())
	`, tunnelID, bytesIn, bytesOut)
	if err != nil {
		return fmt.Errorf("record bandwidth: %w", err)
	}
	return nil
}

// GetTunnelUsage returns total bytes transferred by a tunnel in the current
// calendar month.
func (s *Service) GetTunnelUsage(ctx context.Context, tunnelID string) (int64, error) {
	if s.db == nil {
		return 0, nil
	}

	var totalBytes int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(bytes_in + bytes_out), 0)
		FROM bandwidth_usage
		WHERE tunnel_id = $1
		AND recorded_at >= date_trunc('month', NOW())
	`, tunnelID).Scan(&totalBytes)
	if err != nil {
		return 0, fmt.Errorf("get tunnel usage: %w", err)
	}
	return totalBytes, nil
}

// CheckQuota reports whether a tunnel is within its plan's bandwidth quota.
// Returns (withinQuota, usedBytes, limitBytes, error).
func (s *Service) CheckQuota(ctx context.Context, tunnelID string) (bool, int64, int64, error) {
	if s.db == nil {
		return true, 0, FreeTierBytes, nil
	}

	var plan string
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(plan, 'free') FROM tunnel_billing WHERE tunnel_id = $1", tunnelID).Scan(&plan)
	if err != nil && err != sql.ErrNoRows {
		return false, 0, 0, fmt.Errorf("get tunnel plan: %w", err)
	}
	if plan == "" {
		plan = string(PlanFree)
	}

	usedBytes, err := s.GetTunnelUsage(ctx, tunnelID)
	if err != nil {
		return false, 0, 0, err
	}

	var limitBytes int64
	switch Plan(plan) {
	case PlanPAYG, PlanPro:
		limitBytes = -1
	default:
		limitBytes = FreeTierBytes
	}

	if limitBytes == -1 {
		return true, usedBytes, limitBytes, nil
	}
	return usedBytes < limitBytes, usedBytes, limitBytes, nil
}

// RegisterTunnelBilling creates a Stripe customer for a tunnel and records
// the association, opting the tunnel into metered billing.
func (s *Service) RegisterTunnelBilling(ctx context.Context, tunnelID, email, name string) (string, error) {
	if s.stripe == nil {
		return "", fmt.Errorf("stripe not configured")
	}

	customerID, err := s.stripe.CreateCustomer(email, name)
	if err != nil {
		return "", err
	}

	if s.db != nil {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO tunnel_billing (tunnel_id, stripe_customer_id, plan)
			VALUES ($1, $2, $3)
			ON CONFLICT (tunnel_id) DO UPDATE SET stripe_customer_id = EXCLUDED.stripe_customer_id
		`, tunnelID, customerID, string(PlanFree))
		if err != nil {
			return customerID, fmt.Errorf("save tunnel billing: %w", err)
		}
	}

	return customerID, nil
}

// UpgradeToPAYG switches a tunnel to pay-as-you-go metered billing.
func (s *Service) UpgradeToPAYG(ctx context.Context, tunnelID, priceID string) error {
	if s.db == nil || s.stripe == nil {
		return fmt.Errorf("billing not configured")
	}

	var customerID string
	err := s.db.QueryRowContext(ctx,
		"SELECT stripe_customer_id FROM tunnel_billing WHERE tunnel_id = $1", tunnelID).Scan(&customerID)
	if err != nil {
		return fmt.Errorf("get customer id: %w", err)
	}
	if customerID == "" {
		return fmt.Errorf("tunnel has no stripe customer")
	}

	sub, err := s.stripe.CreateMeteredSubscription(customerID, priceID)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE tunnel_billing SET plan = $1, stripe_subscription_id = $2 WHERE tunnel_id = $3
	`, PlanPAYG, sub.ID, tunnelID)
	if err != nil {
		return fmt.Errorf("update tunnel plan: %w", err)
	}
	return nil
}

// SyncUsageToStripe reports unsynced bandwidth samples to Stripe for every
// tunnel with an active metered subscription.
func (s *Service) SyncUsageToStripe(ctx context.Context) error {
	if s.db == nil || s.stripe == nil {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tb.tunnel_id, tb.stripe_subscription_id, SUM(bu.bytes_in + bu.bytes_out) as total_bytes
		FROM tunnel_billing tb
		JOIN bandwidth_usage bu ON bu.tunnel_id = tb.tunnel_id
		WHERE bu.synced_to_billing = FALSE
		AND tb.stripe_subscription_id IS NOT NULL
		AND tb.plan IN ('payg', 'pro')
		GROUP BY tb.tunnel_id, tb.stripe_subscription_id
	`)
	if err != nil {
		return fmt.Errorf("query unsynced usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tunnelID, subscriptionID string
		var totalBytes int64
		if err := rows.Scan(&tunnelID, &subscriptionID, &totalBytes); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}

		sub, err := s.stripe.GetSubscription(subscriptionID)
		if err != nil {
			return fmt.Errorf("get subscription: %w", err)
		}
		if len(sub.Items.Data) == 0 {
			continue
		}

		if err := s.stripe.ReportUsage(sub.Items.Data[0].ID, totalBytes); err != nil {
			return fmt.Errorf("report usage for tunnel %s: %w", tunnelID, err)
		}

		_, err = s.db.ExecContext(ctx,
			"UPDATE bandwidth_usage SET synced_to_billing = TRUE WHERE tunnel_id = $1 AND synced_to_billing = FALSE",
			tunnelID)
		if err != nil {
			return fmt.Errorf("mark synced: %w", err)
		}
	}

	return nil
}

// UsageSummary is a display-ready snapshot of a tunnel's bandwidth standing.
type UsageSummary struct {
	TunnelID    string
	Plan        Plan
	UsedBytes   int64
	LimitBytes  int64
	UsedGB      float64
	LimitGB     float64
	PercentUsed float64
	OverLimit   bool
	PeriodStart time.Time
	PeriodEnd   time.Time
}

func (s *Service) GetUsageSummary(ctx context.Context, tunnelID string) (*UsageSummary, error) {
	withinQuota, usedBytes, limitBytes, err := s.CheckQuota(ctx, tunnelID)
	if err != nil {
		return nil, err
	}

	var plan string
	if s.db != nil {
		s.db.QueryRowContext(ctx, "SELECT COALESCE(plan, 'free') FROM tunnel_billing WHERE tunnel_id = $1", tunnelID).Scan(&plan)
	}
	if plan == "" {
		plan = string(PlanFree)
	}

	now := time.Now()
	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	periodEnd := periodStart.AddDate(0, 1, 0).Add(-time.Second)

	summary := &UsageSummary{
		TunnelID:    tunnelID,
		Plan:        Plan(plan),
		UsedBytes:   usedBytes,
		LimitBytes:  limitBytes,
		UsedGB:      BytesToGB(usedBytes),
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		OverLimit:   !withinQuota,
	}
	if limitBytes > 0 {
		summary.LimitGB = BytesToGB(limitBytes)
		summary.PercentUsed = float64(usedBytes) / float64(limitBytes) * 100
	}
	return summary, nil
}
