package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"branchsync/internal/branches"
)

const (
	outputText = "text"
	outputJSON = "json"
)

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List branches ahead of the target branch",
	Long: `Lists local and remote branches relative to the target branch, session
branches (matching sync.session_prefix) first. By default only branches with
at least one commit not on the target are shown.`,
	Args: cobra.NoArgs,
	RunE: runBranches,
}

func init() {
	branchesCmd.SilenceUsage = true
	branchesCmd.Flags().Bool("all", false, "Include branches that are not ahead of the target")
	branchesCmd.Flags().String("output", outputText, "Output format: text or json")
}

type branchJSON struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Session  bool   `json:"session"`
	Ahead    int    `json:"ahead"`
	Behind   int    `json:"behind"`
	Commit   string `json:"commit,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Age      string `json:"age,omitempty"`
}

func runBranches(cmd *cobra.Command, _ []string) error {
	all, _ := cmd.Flags().GetBool("all")
	format, _ := cmd.Flags().GetString("output")
	if format != outputText && format != outputJSON {
		return fmt.Errorf("invalid output format '%s': use 'text' or 'json'", format)
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	target, err := e.target(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	classifier := branches.New(e.client, branches.Options{
		Target:        target,
		Remote:        e.remote,
		SessionPrefix: e.cfg.Sync.SessionPrefix,
		AllowList:     e.cfg.Sync.AllowList,
		Summaries:     true,
	})

	var refs []branches.BranchRef
	if all {
		classified, err := classifier.Classify(ctx)
		if err != nil {
			return err
		}
		for _, ref := range classified {
			ref.Ahead, ref.Behind = classifier.Counts(ctx, ref)
			refs = append(refs, ref)
		}
	} else {
		refs, err = classifier.Eligible(ctx)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if format == outputJSON {
		return writeBranchesJSON(out, refs)
	}
	writeBranchesText(out, target, refs)
	return nil
}

func writeBranchesJSON(out io.Writer, refs []branches.BranchRef) error {
	items := make([]branchJSON, 0, len(refs))
	for _, ref := range refs {
		items = append(items, branchJSON{
			Name:     ref.Name,
			Location: ref.Location.String(),
			Session:  ref.Session,
			Ahead:    ref.Ahead,
			Behind:   ref.Behind,
			Commit:   ref.Summary.ShortHash,
			Subject:  ref.Summary.Subject,
			Age:      ref.Summary.Age,
		})
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	outln(out, string(data))
	return nil
}

func writeBranchesText(out io.Writer, target string, refs []branches.BranchRef) {
	if len(refs) == 0 {
		outf(out, "No branches are ahead of %s\n", target)
		return
	}
	outf(out, "Branches relative to %s (* session branch):\n", target)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	outln(w, "\tBRANCH\tLOCATION\tAHEAD\tBEHIND\tLAST COMMIT")
	for _, ref := range refs {
		marker := " "
		if ref.Session {
			marker = "*"
		}
		outf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", marker, ref.Name, ref.Location, ref.Ahead, ref.Behind, ref.Summary)
	}
	_ = w.Flush()
}
