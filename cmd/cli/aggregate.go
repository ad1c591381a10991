package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/vpnda/sandwich-aggregate/pkg/models"
	"github.com/vpnda/sandwich-aggregate/pkg/services"
	"github.com/vpnda/sandwich-aggregate/pkg/utils"
)

type aggregateFlags struct {
	clientID   string
	banks      []string
	accountIDs []string
	from       string
	to         string
	period     string
}

func newAggregateCmds() []*cobra.Command {
	var f aggregateFlags

	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "List the client's accounts across banks",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			accounts, err := a.agg.GetAccounts(cmd.Context(), f.clientID, f.banks)
			if err != nil {
				return err
			}
			printAccounts(accounts)
			return nil
		}),
	}

	balancesCmd := &cobra.Command{
		Use:   "balances",
		Short: "List balances of the client's accounts",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			balances, err := a.agg.GetBalances(cmd.Context(), f.clientID, f.accountIDs, f.banks)
			if err != nil {
				return err
			}
			printBalances(balances)
			return nil
		}),
	}

	transactionsCmd := &cobra.Command{
		Use:   "transactions",
		Short: "List the client's transactions, the last 30 days by default",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			from, err := parseDateFlag("from", f.from)
			if err != nil {
				return err
			}
			to, err := parseDateFlag("to", f.to)
			if err != nil {
				return err
			}
			transactions, err := a.agg.GetTransactions(cmd.Context(), f.clientID, services.TransactionQuery{
				From:       from,
				To:         to,
				AccountIDs: f.accountIDs,
				Banks:      f.banks,
			})
			if err != nil {
				return err
			}
			printTransactions(transactions)
			return nil
		}),
	}

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Show net worth and spending analytics",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			days, err := services.ParsePeriod(f.period)
			if err != nil {
				return err
			}
			summary, err := a.analytics.Summary(cmd.Context(), f.clientID, days)
			if err != nil {
				return err
			}
			printSummary(summary)
			return nil
		}),
	}

	cmds := []*cobra.Command{accountsCmd, balancesCmd, transactionsCmd, summaryCmd}
	for _, cmd := range cmds {
		cmd.Flags().StringVarP(&f.clientID, "client", "c", "", "Client ID")
		_ = cmd.MarkFlagRequired("client")
	}
	for _, cmd := range cmds[:3] {
		cmd.Flags().StringSliceVarP(&f.banks, "bank", "b", nil, "Only query these banks")
	}
	for _, cmd := range cmds[1:3] {
		cmd.Flags().StringSliceVar(&f.accountIDs, "account", nil, "Only these account ids")
	}
	transactionsCmd.Flags().StringVar(&f.from, "from", "", "Start date (2006-01-02 or ISO-8601)")
	transactionsCmd.Flags().StringVar(&f.to, "to", "", "End date (2006-01-02 or ISO-8601)")
	summaryCmd.Flags().StringVarP(&f.period, "period", "p", "30d", "Period such as 7d or 90d")

	return cmds
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseDateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --%s %q: expected 2006-01-02 or ISO-8601", name, value)
}

func truncate(s string, n int) string {
	r := []rune(s)
	return string(r[:min(n, len(r))])
}

func printAccounts(accounts []models.Account) {
	if len(accounts) == 0 {
		fmt.Println("No accounts found")
		return
	}

	fmt.Printf("Found %d accounts:\n\n", len(accounts))
	fmt.Printf("%-8s %-30s %-10s %-15s %-25s\n", "Bank", "Account ID", "Currency", "Type", "Nickname")
	fmt.Println(strings.Repeat("-", 92))
	for _, account := range accounts {
		fmt.Printf("%-8s %-30s %-10s %-15s %-25s\n",
			account.Bank,
			truncate(account.AccountID, 30),
			account.Currency,
			account.AccountType,
			truncate(lo.FromPtr(account.Nickname), 25))
	}
}

func printBalances(balances []models.Balance) {
	if len(balances) == 0 {
		fmt.Println("No balances found")
		return
	}

	fmt.Printf("Found %d balances:\n\n", len(balances))
	fmt.Printf("%-8s %-30s %20s %-15s\n", "Bank", "Account ID", "Amount", "Type")
	fmt.Println(strings.Repeat("-", 76))
	for _, b := range balances {
		fmt.Printf("%-8s %-30s %20s %-15s\n",
			b.Bank,
			truncate(b.AccountID, 30),
			b.AsAmount().Display(),
			b.BalanceType)
	}
	fmt.Printf("\nNet worth: %s\n", display(services.NetWorth(balances)))
}

func printTransactions(transactions []models.Transaction) {
	if len(transactions) == 0 {
		fmt.Println("No transactions found")
		return
	}

	fmt.Printf("Found %d transactions:\n\n", len(transactions))
	fmt.Printf("%-8s %-20s %-20s %18s %-30s %-15s\n", "Bank", "Account ID", "Date", "Amount", "Description", "Category")
	fmt.Println(strings.Repeat("-", 116))
	for _, tx := range transactions {
		fmt.Printf("%-8s %-20s %-20s %18s %-30s %-15s\n",
			tx.Bank,
			truncate(tx.AccountID, 20),
			truncate(tx.BookingDate, 20),
			tx.AsAmount().Display(),
			truncate(lo.FromPtr(tx.Description), 30),
			utils.Capitalize(services.Categorize(tx)))
	}
}

func printSummary(summary *models.Summary) {
	if summary.Placeholder {
		fmt.Println("No bank returned data, showing placeholder figures for linked accounts.")
		fmt.Println()
	}
	fmt.Printf("Period:          last %d days\n", summary.PeriodDays)
	fmt.Printf("Accounts:        %d\n", summary.TotalAccounts)
	fmt.Printf("Net worth:       %s\n", display(summary.NetWorth))
	fmt.Printf("Total spending:  %s\n", display(summary.TotalSpending))

	if len(summary.TopExpenses) > 0 {
		fmt.Println()
		fmt.Println("Top categories:")
		for _, c := range summary.TopExpenses {
			fmt.Printf("  %-20s %18s\n", utils.Capitalize(c.Category), display(c.Amount))
		}
	}

	if len(summary.WeeklyTrend) > 0 {
		fmt.Println()
		fmt.Println("Weekly spending:")
		for _, w := range summary.WeeklyTrend {
			fmt.Printf("  %-20s %18s\n", w.Week, display(w.Spending))
		}
	}
}

func display(d decimal.Decimal) string {
	return models.Amount{Value: d.StringFixed(2), Currency: models.DefaultCurrency}.Display()
}
