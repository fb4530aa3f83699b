package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/intake/internal/config"
	"github.com/kalambet/intake/internal/extract"
	"github.com/kalambet/intake/internal/pipeline"
	"github.com/kalambet/intake/internal/storage"
	"github.com/kalambet/intake/internal/validate"
)

// inputText returns --text, or the content of --file.
func inputText(cmd *cobra.Command) (string, error) {
	text, _ := cmd.Flags().GetString("text")
	file, _ := cmd.Flags().GetString("file")

	switch {
	case text != "" && file != "":
		return "", fmt.Errorf("--text and --file are mutually exclusive")
	case text != "":
		return text, nil
	case file != "":
		content, err := extract.FromFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", file, err)
		}
		return content, nil
	}
	return "", fmt.Errorf("one of --text or --file is required")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check text against the validation rules",
	Long: `Check text against the validation rules. Runs locally; the server is not needed.

Examples:
  intake validate --text "Hello there, how are you?"
  intake validate --file ./message.pdf --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := inputText(cmd)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		policy, err := config.LoadPolicy(cfg.Validation.PolicyFile)
		if err != nil {
			return err
		}
		res := validate.New(validate.Rules{
			MinLength:      cfg.Validation.MinLength,
			MaxLength:      cfg.Validation.MaxLength,
			ForbiddenTerms: policy.ForbiddenTerms,
		}).Validate(text)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(res)
		}
		writeValidation(os.Stdout, res)
		if !res.IsValid {
			return fmt.Errorf("text is not valid")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().String("text", "", "text to validate")
	validateCmd.Flags().String("file", "", "text or PDF file to validate")
	validateCmd.Flags().Bool("json", false, "print the result as JSON")
}

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Submit text to the running server",
	Long: `Submit text to the running server.

Examples:
  intake process --text "నాకు ఎగరాలి అని ఉంది" --user u1 --wait
  intake process --file ./letter.pdf --user u1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := inputText(cmd)
		if err != nil {
			return err
		}
		user, _ := cmd.Flags().GetString("user")
		session, _ := cmd.Flags().GetString("session")
		wait, _ := cmd.Flags().GetBool("wait")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/v1/process"
		if wait {
			path += "?wait=true"
		}
		resp, err := client.post(cmd.Context(), path, pipeline.Submission{Text: text, UserID: user, SessionID: session})
		if err != nil {
			return err
		}
		var acc pipeline.Accepted
		if err := decodeJSON(resp, &acc); err != nil {
			return err
		}

		if acc.Status == storage.RecordFailed {
			printWarning("Record %s failed; see: intake status %s --detailed", acc.RecordID, acc.RecordID)
		} else {
			printSuccess("Record %s %s", acc.RecordID, acc.Status)
		}
		fmt.Println(acc.RecordID)
		return nil
	},
}

func init() {
	processCmd.Flags().String("text", "", "text to process")
	processCmd.Flags().String("file", "", "text or PDF file to process")
	processCmd.Flags().String("user", "", "submitting user id")
	processCmd.Flags().String("session", "", "optional session id")
	processCmd.Flags().Bool("wait", false, "wait for the pipeline to finish")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status <record-id>",
	Short: "Show the processing status of a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		detailed, _ := cmd.Flags().GetBool("detailed")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/v1/status/" + url.PathEscape(args[0])
		if detailed {
			path += "?detailed=true"
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var view pipeline.StatusView
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}

		if asJSON {
			return printJSON(view)
		}
		writeStatus(os.Stdout, view)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("detailed", false, "include phases, language, translation and processed text")
	statusCmd.Flags().Bool("json", false, "print the status as JSON")
}

// --- reprocess ---

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <record-id>",
	Short: "Run a record again, retrying its failed phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/v1/records/" + url.PathEscape(args[0]) + "/reprocess"
		if wait {
			path += "?wait=true"
		}
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}
		var acc pipeline.Accepted
		if err := decodeJSON(resp, &acc); err != nil {
			return err
		}
		printSuccess("Record %s %s", acc.RecordID, acc.Status)
		return nil
	},
}

func init() {
	reprocessCmd.Flags().Bool("wait", false, "wait for the pipeline to finish")
}

// --- providers ---

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the detection methods and translation providers of the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/providers")
		if err != nil {
			return err
		}
		var report pipeline.ProviderReport
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		fmt.Printf("%s %v\n", colorize(colorBold, "Detection:"), report.DetectionMethods)
		fmt.Printf("%s %s\n", colorize(colorBold, "Target:"), report.TargetLanguage)
		for _, p := range report.TranslationChain {
			state := colorize(colorGreen, "available")
			if !p.Available {
				state = colorize(colorYellow, "not configured")
			}
			fmt.Printf("  %d. %-12s %s\n", p.Position, p.Name, state)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
