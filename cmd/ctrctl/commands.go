package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/loiht2/ctr-aiops/backend/client"
)

// flag names
const (
	flagServerAddress = "server-address"
	flagTimeout       = "timeout"
)

// environment variable names
const (
	envServerAddress = "CTR_SERVER_ADDRESS"
)

// newRootCmd builds the command tree. Each call returns fresh commands so
// tests can execute them independently.
func newRootCmd() *cobra.Command {
	var (
		serverAddress string
		timeout       time.Duration
		api           client.Client
	)

	root := &cobra.Command{
		Use:           "ctrctl",
		Short:         "ctrctl - command line client for the CTR AIOps API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Flag > env var > default
			if !cmd.Flags().Changed(flagServerAddress) {
				if env := os.Getenv(envServerAddress); env != "" {
					serverAddress = env
				}
			}
			if serverAddress == "" {
				return fmt.Errorf("server address cannot be empty")
			}
			c, err := client.NewClient(&client.Options{BaseURL: serverAddress, Timeout: timeout})
			if err != nil {
				return err
			}
			api = c
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&serverAddress, flagServerAddress, "s", client.DefaultBaseURL, "Address of the API server (env: "+envServerAddress+")")
	root.PersistentFlags().DurationVar(&timeout, flagTimeout, client.DefaultTimeout, "Request timeout")

	getAPI := func() client.Client { return api }
	root.AddCommand(
		uploadCmd(getAPI),
		trainCmd(getAPI),
		statusCmd(getAPI),
		runsCmd(getAPI),
		resultsCmd(getAPI),
		cancelCmd(getAPI),
		reportCmd(getAPI),
		importanceCmd(getAPI),
		pdfCmd(getAPI),
	)
	return root
}

type apiFunc func() client.Client

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func uploadCmd(api apiFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.csv>",
		Short: "Upload a CSV dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Clean(args[0])
			// #nosec G304 -- the path is supplied by the operator
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("error reading file: %w", err)
			}
			resp, err := api().Upload(cmd.Context(), filepath.Base(path), data)
			if err != nil {
				return fmt.Errorf("error uploading dataset: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func trainCmd(api apiFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Start a training run on an uploaded dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fileID, _ := cmd.Flags().GetString("file-id")

			// only flags the user set are sent; the server fills in the rest
			config := map[string]interface{}{}
			for _, name := range []string{"epochs", "batch_size", "sample_size"} {
				if flag := cmd.Flags().Lookup(name); flag.Changed {
					v, _ := cmd.Flags().GetInt(name)
					config[name] = v
				}
			}
			if cmd.Flags().Changed("learning_rate") {
				v, _ := cmd.Flags().GetFloat64("learning_rate")
				config["learning_rate"] = v
			}

			resp, err := api().Train(cmd.Context(), fileID, config)
			if err != nil {
				return fmt.Errorf("error starting training: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringP("file-id", "f", "", "ID returned by upload")
	cmd.Flags().Int("epochs", 0, "Number of epochs")
	cmd.Flags().Int("batch_size", 0, "Mini-batch size")
	cmd.Flags().Int("sample_size", 0, "Rows sampled from the dataset")
	cmd.Flags().Float64("learning_rate", 0, "Adam learning rate")
	_ = cmd.MarkFlagRequired("file-id")
	return cmd
}

func statusCmd(api apiFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <run_id>",
		Short: "Show the progress of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			watch, _ := cmd.Flags().GetBool("watch")
			interval, _ := cmd.Flags().GetDuration("interval")

			for {
				status, err := api().Status(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("error fetching status: %w", err)
				}
				if !watch || status.Status.IsTerminal() {
					return printJSON(cmd.OutOrStdout(), status)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s epoch %d/%d\n", status.Status, status.CurrentEpoch, status.TotalEpochs)

				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(interval):
				}
			}
		},
	}
	cmd.Flags().BoolP("watch", "w", false, "Poll until the run finishes")
	cmd.Flags().Duration("interval", 2*time.Second, "Polling interval for --watch")
	return cmd
}

func runsCmd(api apiFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List training runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := api().Runs(cmd.Context())
			if err != nil {
				return fmt.Errorf("error listing runs: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), runs)
		},
	}
}

func resultsCmd(api apiFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "results <run_id>",
		Short: "Show the full record of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := api().Results(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error fetching results: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
}

func cancelCmd(api apiFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run_id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api().Cancel(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("error cancelling run: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

func reportCmd(api apiFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "report <run_id>",
		Short: "Show the AI report of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := api().AIReport(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error fetching report: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
}

func importanceCmd(api apiFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "importance <run_id>",
		Short: "Show the feature importance of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := api().FeatureImportance(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error fetching feature importance: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func pdfCmd(api apiFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdf <run_id>",
		Short: "Generate a PDF report and download it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := api().GeneratePDF(ctx, args[0]); err != nil {
				return fmt.Errorf("error generating PDF: %w", err)
			}
			data, name, err := api().DownloadPDF(ctx, args[0])
			if err != nil {
				return fmt.Errorf("error downloading PDF: %w", err)
			}

			dir, _ := cmd.Flags().GetString("output-dir")
			if name == "" {
				name = args[0] + ".pdf"
			}
			path := filepath.Join(dir, filepath.Base(name))
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return fmt.Errorf("error writing PDF: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PDF saved to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringP("output-dir", "o", ".", "Directory to save the PDF in")
	return cmd
}
