package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	submitLanguage string
	submitPlatform string
	submitFile     string
	submitWait     bool
	pollInterval   time.Duration

	pageLimit  int
	pageNumber int

	decisionLabel     string
	decisionReviewer  string
	decisionRationale string

	analyticsStage    string
	analyticsLanguage string
	analyticsPlatform string
	analyticsFrom     string
	analyticsTo       string
)

var submitCmd = &cobra.Command{
	Use:   "submit [text]",
	Short: "Submit text for verification",
	Long: `Submit text for verification and print the job id.

Example:
  verifyctl submit "The moon is made of cheese." --language en
  verifyctl submit --file post.html --language de --wait`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the current state of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodGet, "/verify/"+url.PathEscape(args[0]), nil, nil)
	},
}

var resubmitCmd = &cobra.Command{
	Use:   "resubmit <job-id>",
	Short: "Reset a failed job and run it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodPost, "/verify/"+url.PathEscape(args[0])+"/resubmit", nil, nil)
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the human review queue",
}

var reviewPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List jobs waiting for review",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(pageLimit))
		q.Set("page", strconv.Itoa(pageNumber))
		return call(cmd, http.MethodGet, "/claims/pending_review", q, nil)
	},
}

var reviewRequestCmd = &cobra.Command{
	Use:   "request <job-id>",
	Short: "Flag a completed job for human review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, http.MethodPost, "/claims/"+url.PathEscape(args[0])+"/request_review", nil, nil)
	},
}

var reviewDecideCmd = &cobra.Command{
	Use:   "decide <job-id>",
	Short: "Record a reviewer decision",
	Long: `Record a reviewer decision for a job. The automatic verdict is kept;
the decision is shown in its place.

Example:
  verifyctl review decide 6f1c... --label Misleading --reviewer alice --rationale "satire"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{
			"decided_label": decisionLabel,
			"reviewer_id":   decisionReviewer,
			"rationale":     decisionRationale,
		}
		return call(cmd, http.MethodPost, "/claims/"+url.PathEscape(args[0])+"/decision", nil, body)
	},
}

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Print aggregate job statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		for key, val := range map[string]string{
			"stage":    analyticsStage,
			"language": analyticsLanguage,
			"platform": analyticsPlatform,
			"from":     analyticsFrom,
			"to":       analyticsTo,
		} {
			if val != "" {
				q.Set(key, val)
			}
		}
		return call(cmd, http.MethodGet, "/analytics", q, nil)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd, statusCmd, resubmitCmd, reviewCmd, analyticsCmd)
	reviewCmd.AddCommand(reviewPendingCmd, reviewRequestCmd, reviewDecideCmd)

	submitCmd.Flags().StringVarP(&submitLanguage, "language", "l", "en", "language of the submitted text")
	submitCmd.Flags().StringVar(&submitPlatform, "platform", "", "originating platform (optional)")
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "", "read text from a file instead of the argument")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "poll until the job reaches a final stage")
	submitCmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "status poll interval with --wait")

	reviewPendingCmd.Flags().IntVar(&pageLimit, "limit", 20, "page size")
	reviewPendingCmd.Flags().IntVar(&pageNumber, "page", 1, "page number, starting at 1")

	reviewDecideCmd.Flags().StringVar(&decisionLabel, "label", "", "decided label (True, False, Misleading, Unverified)")
	reviewDecideCmd.Flags().StringVar(&decisionReviewer, "reviewer", "", "reviewer id (ignored when the token names one)")
	reviewDecideCmd.Flags().StringVar(&decisionRationale, "rationale", "", "why the decision was made")
	_ = reviewDecideCmd.MarkFlagRequired("label")

	analyticsCmd.Flags().StringVar(&analyticsStage, "stage", "", "comma separated stages")
	analyticsCmd.Flags().StringVar(&analyticsLanguage, "language", "", "language filter")
	analyticsCmd.Flags().StringVar(&analyticsPlatform, "platform", "", "platform filter")
	analyticsCmd.Flags().StringVar(&analyticsFrom, "from", "", "created at or after (RFC 3339)")
	analyticsCmd.Flags().StringVar(&analyticsTo, "to", "", "created before (RFC 3339)")
}

func call(cmd *cobra.Command, method, path string, query url.Values, body interface{}) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration("timeout"))
	defer cancel()

	result, err := newClientFromConfig().Do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), viper.GetString("output"), result)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	text, err := submissionText(args)
	if err != nil {
		return err
	}

	client := newClientFromConfig()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := client.Do(ctx, http.MethodPost, "/verify", nil, map[string]string{
		"text":     text,
		"language": submitLanguage,
		"platform": submitPlatform,
	})
	if err != nil {
		return err
	}
	if !submitWait {
		return printResult(cmd.OutOrStdout(), viper.GetString("output"), result)
	}

	m, _ := result.(map[string]interface{})
	jobID, _ := m["job_id"].(string)
	if jobID == "" {
		return fmt.Errorf("server did not return a job id")
	}
	job, err := waitForJob(ctx, client, jobID, pollInterval)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), viper.GetString("output"), job)
}

func submissionText(args []string) (string, error) {
	switch {
	case submitFile != "" && len(args) > 0:
		return "", fmt.Errorf("pass either text or --file, not both")
	case submitFile != "":
		data, err := os.ReadFile(submitFile)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", submitFile, err)
		}
		return string(data), nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("no text given")
	}
}

var finalStages = map[string]bool{"completed": true, "pending_review": true, "failed": true}

// waitForJob polls the job until it reaches a final stage.
func waitForJob(ctx context.Context, client *Client, jobID string, interval time.Duration) (interface{}, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := client.Do(ctx, http.MethodGet, "/verify/"+url.PathEscape(jobID), nil, nil)
		if err != nil {
			return nil, err
		}
		if m, ok := job.(map[string]interface{}); ok {
			stage, _ := m["stage"].(string)
			if verbose {
				fmt.Fprintf(os.Stderr, "job %s: %s\n", jobID, stage)
			}
			if finalStages[stage] {
				return job, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
