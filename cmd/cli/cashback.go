package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/vpnda/sandwich-aggregate/pkg/services"
	"github.com/vpnda/sandwich-aggregate/pkg/utils"
)

// newCashbackCmd estimates the cashback a client would earn over a period
// with the given bonuses active. Bonuses only live for the command; the
// serve command keeps them for the process lifetime.
func newCashbackCmd() *cobra.Command {
	var (
		clientID string
		period   string
		bonuses  map[string]string
		until    string
	)

	cmd := &cobra.Command{
		Use:   "cashback",
		Short: "Estimate cashback per category for a set of bonuses",
		Example: `  sandwich cashback -c team200-1 --bonus groceries=5 --bonus gas=3
  sandwich cashback -c team200-1 --bonus restaurants=10 --until 2025-12-31`,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			validUntil, err := parseDateFlag("until", until)
			if err != nil {
				return err
			}
			for category, raw := range bonuses {
				percent, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
				if err != nil {
					return fmt.Errorf("invalid bonus for %s: %w", category, err)
				}
				if _, err := a.cashback.Activate(clientID, category, percent, validUntil); err != nil {
					return err
				}
			}

			days, err := services.ParsePeriod(period)
			if err != nil {
				return err
			}
			summary, err := a.analytics.Summary(cmd.Context(), clientID, days)
			if err != nil {
				return err
			}

			categories := lo.Keys(summary.SpendingByCategory)
			sort.Strings(categories)

			fmt.Printf("%-20s %18s %8s %18s\n", "Category", "Spending", "Bonus", "Cashback")
			fmt.Println(strings.Repeat("-", 67))
			total := decimal.Zero
			for _, category := range categories {
				spent := summary.SpendingByCategory[category]
				percent := decimal.Zero
				if bonus, ok := a.cashback.ForCategory(clientID, category); ok {
					percent = decimal.NewFromFloat(bonus.BonusPercent)
				}
				earned := spent.Mul(percent).Div(decimal.NewFromInt(100)).Round(2)
				total = total.Add(earned)
				fmt.Printf("%-20s %18s %7s%% %18s\n", utils.Capitalize(category), display(spent), percent.String(), display(earned))
			}
			fmt.Printf("\nEstimated cashback over %d days: %s\n", days, display(total))

			active, err := a.cashback.Active(clientID)
			if err != nil {
				return err
			}
			for _, b := range active {
				fmt.Printf("  %s %v%% valid until %s\n", b.Category, b.BonusPercent, b.ValidUntil.Format(time.DateOnly))
			}
			return nil
		}),
	}

	cmd.Flags().StringVarP(&clientID, "client", "c", "", "Client ID")
	_ = cmd.MarkFlagRequired("client")
	cmd.Flags().StringVarP(&period, "period", "p", "30d", "Period such as 7d or 90d")
	cmd.Flags().StringToStringVar(&bonuses, "bonus", nil, "Bonus percent per category, e.g. groceries=5")
	cmd.Flags().StringVar(&until, "until", "", "Bonus expiry date (defaults to 30 days from now)")
	return cmd
}
