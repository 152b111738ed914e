package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/filing-acquirer/internal/fetcher"
	"github.com/sells-group/filing-acquirer/internal/market"
	"github.com/sells-group/filing-acquirer/internal/model"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search a market for filings and queue them for download",
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().String("market", "", "sec|uk_ch|esef")
	searchCmd.Flags().String("identifier", "", "market-specific company identifier (CIK, company number)")
	searchCmd.Flags().String("company-name", "", "search by company name instead of identifier")
	searchCmd.Flags().String("form-type", "", "form/filing type filter")
	searchCmd.Flags().Int("max-results", 25, "maximum filings to queue")
	searchCmd.Flags().String("start-date", "", "YYYY-MM-DD")
	searchCmd.Flags().String("end-date", "", "YYYY-MM-DD")

	_ = searchCmd.MarkFlagRequired("market")
}

func runSearch(cmd *cobra.Command, args []string) error {
	marketFlag, _ := cmd.Flags().GetString("market")
	identifier, _ := cmd.Flags().GetString("identifier")
	companyName, _ := cmd.Flags().GetString("company-name")
	formType, _ := cmd.Flags().GetString("form-type")
	maxResults, _ := cmd.Flags().GetInt("max-results")
	startDate, _ := cmd.Flags().GetString("start-date")
	endDate, _ := cmd.Flags().GetString("end-date")

	if identifier == "" && companyName == "" {
		return eris.New("search: one of --identifier or --company-name is required")
	}

	ctx := cmd.Context()
	if err := cfg.Validate("download"); err != nil {
		return err
	}

	repo, closeRepo, err := initRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	orchestrator := market.NewOrchestrator(repo, buildRegistry())

	marketID := model.MarketType(marketFlag)
	var count int
	if companyName != "" {
		count, err = orchestrator.SearchByNameAndSave(ctx, marketID, companyName, formType, maxResults, startDate, endDate)
	} else {
		count, err = orchestrator.SearchAndSave(ctx, marketID, identifier, formType, maxResults, startDate, endDate)
	}
	if err != nil {
		return eris.Wrap(err, "search: run")
	}

	fmt.Printf("queued %d filing(s) for download\n", count)
	return nil
}

// buildRegistry wires every enabled market searcher against one plain HTTP
// client (with the configured request timeout) and market-specific
// policy/credentials.
func buildRegistry() *market.Registry {
	httpClient := &http.Client{Timeout: time.Duration(cfg.Network.RequestTimeout) * time.Second}

	policy := fetcher.MarketPolicy{
		SECUserAgent:  cfg.SEC.UserAgent,
		UKCHAPIKey:    cfg.UKCH.APIKey,
		UKCHUserAgent: cfg.UKCH.UserAgent,
	}

	searchers := map[model.MarketType]market.Searcher{
		model.MarketSEC:  market.NewSECSearcher(httpClient, policy),
		model.MarketUKCH: market.NewUKCHSearcher(httpClient, cfg.UKCH.APIKey, "https://api.companieshouse.gov.uk"),
		model.MarketESEF: market.NewESEFSearcher(httpClient, cfg.ESEF.BaseURL),
	}

	return market.NewRegistry(searchers)
}
