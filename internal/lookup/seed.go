package lookup

import (
	"context"
	"fmt"
)

// SeedDemo loads the demo prospect list and competitor comparison data
// used for local end-to-end runs.
func SeedDemo(ctx context.Context, s Store) error {
	contacts := []ContactRecord{
		{
			PhoneNumber:   "+13128487404",
			Name:          "Sarah Johnson",
			Company:       "TechStart Inc",
			InterestLevel: "high",
		},
		{
			PhoneNumber:   "+14155552345",
			Name:          "Michael Chen",
			Company:       "DataFlow Solutions",
			InterestLevel: "medium",
		},
		{
			PhoneNumber:   "+16463337890",
			Name:          "Emily Rodriguez",
			Company:       "RetailMetrics Corp",
			InterestLevel: "high",
		},
		{
			PhoneNumber:   "+17138889012",
			Name:          "David Park",
			Company:       "FinanceHub LLC",
			InterestLevel: "medium",
		},
		{
			PhoneNumber:   "+19176664321",
			Name:          "Jennifer Martinez",
			Company:       "GrowthMetrics Inc",
			InterestLevel: "low",
		},
	}

	summaries := map[string]string{
		"+13128487404": "Sarah expressed interest in the AI analytics platform after seeing a demo at a tech conference. Currently using spreadsheets for data analysis. Requested pricing for a team of 15.",
		"+16463337890": "Emily attended the retail analytics webinar. Interested in real-time inventory predictions, struggling with stockouts. Wants a retail-tailored demo.",
	}

	products := []ProductRecord{
		{
			Name:               "Snowflake",
			Differentiation:    "Snowflake excels at data warehousing; CloudAnalytics AI sits on top of the warehouse and adds AI-powered analytics, predictive capabilities, and natural language querying without complex SQL.",
			Benefits:           "Business users ask questions in plain English and get AI-generated insights instantly, making the Snowflake investment accessible to the whole organization.",
			CustomerProofPoint: "TechCorp reduced time-to-insight by 75% by layering CloudAnalytics AI on their existing Snowflake warehouse.",
		},
		{
			Name:               "Databricks",
			Differentiation:    "Databricks targets data engineering and ML workflows and requires coding skills; CloudAnalytics AI provides a no-code conversational layer for business users alongside it.",
			Benefits:           "Keep Databricks for the data science team while business users get self-service analytics, reducing bottlenecks.",
			CustomerProofPoint: "DataFlow Inc saw a 60% reduction in ad-hoc analysis requests to their data science team after deploying CloudAnalytics AI alongside Databricks.",
		},
		{
			Name:               "Sigma",
			Differentiation:    "Sigma is a strong BI tool; CloudAnalytics AI goes beyond visualization with predictive models, automated anomaly detection, and natural language insights.",
			Benefits:           "Insights and predictions surface proactively without building dashboards; the AI monitors data continuously and alerts on trends early.",
			CustomerProofPoint: "RetailMax discovered $2.3M in revenue opportunities through predictive inventory recommendations after switching from Sigma.",
		},
	}

	for _, c := range contacts {
		if err := s.UpsertContact(ctx, c); err != nil {
			return fmt.Errorf("seed contact %s: %w", c.PhoneNumber, err)
		}
	}
	for phone, summary := range summaries {
		if err := s.SaveConversationSummary(ctx, phone, summary); err != nil {
			return fmt.Errorf("seed summary %s: %w", phone, err)
		}
	}
	for _, p := range products {
		if err := s.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product %s: %w", p.Name, err)
		}
	}
	return nil
}
