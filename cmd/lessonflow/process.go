package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/lessonflow/internal/pipeline"
)

const maxInputSize = 1 << 20

var (
	processLanguage string
	processGrade    int
	processSubject  string
	processFormat   string
	processJSON     bool
)

var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Run lesson text through the pipeline",
	Long: `Simplify, translate and validate lesson text, and synthesize speech when the
format asks for audio. Text is read from the file argument, or stdin when the
argument is "-" or missing.

Examples:
  # Translate a science passage for grade 8 into Hindi
  lessonflow process lesson.txt --language Hindi --grade 8 --subject Science

  # Read stdin and produce text and audio
  cat lesson.txt | lessonflow process --language Tamil --format both

  # Print the full run as JSON
  lessonflow process lesson.txt --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processLanguage, "language", "l", "Hindi",
		"target language ("+strings.Join(pipeline.SupportedLanguages(), ", ")+")")
	processCmd.Flags().IntVarP(&processGrade, "grade", "g", 8,
		fmt.Sprintf("student grade (%d-%d)", pipeline.MinGrade, pipeline.MaxGrade))
	processCmd.Flags().StringVarP(&processSubject, "subject", "s", "Science",
		"subject ("+strings.Join(pipeline.SupportedSubjects(), ", ")+")")
	processCmd.Flags().StringVarP(&processFormat, "format", "f", string(pipeline.FormatText),
		"output format (text, audio, both)")
	processCmd.Flags().BoolVar(&processJSON, "json", false, "print the run as JSON")
}

func runProcess(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	var progress pipeline.ProgressCallback
	if !processJSON {
		errOut := cmd.ErrOrStderr()
		progress = func(p pipeline.Progress) {
			fmt.Fprintf(errOut, "[%3d%%] %-14s %s\n", p.Percentage, p.Stage, p.Message)
		}
	}

	orch, err := a.newPipeline(progress)
	if err != nil {
		return err
	}

	run, runErr := orch.Process(ctx, pipeline.Request{
		Text:           text,
		TargetLanguage: processLanguage,
		Grade:          processGrade,
		Subject:        processSubject,
		OutputFormat:   pipeline.OutputFormat(processFormat),
	})

	out := cmd.OutOrStdout()
	if processJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}
	} else {
		printRun(out, run)
	}

	if runErr != nil {
		return fmt.Errorf("run %s failed: %w", run.ID, runErr)
	}
	return nil
}

func readInput(stdin io.Reader, args []string) (string, error) {
	r := stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	if len(data) > maxInputSize {
		return "", fmt.Errorf("input exceeds %d bytes", maxInputSize)
	}
	return string(data), nil
}

func printRun(w io.Writer, run *pipeline.Run) {
	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	if run.QualityScore > 0 {
		fmt.Fprintf(w, "Quality:  %.2f\n", run.QualityScore)
	}
	fmt.Fprintf(w, "Duration: %s\n", run.Duration())
	if run.Failure != "" {
		fmt.Fprintf(w, "Failure:  %s\n", run.Failure)
	}
	if run.SimplifiedText != "" {
		fmt.Fprintf(w, "\nSimplified:\n%s\n", run.SimplifiedText)
	}
	if run.TranslatedText != "" {
		fmt.Fprintf(w, "\nTranslated (%s):\n%s\n", run.Request.TargetLanguage, run.TranslatedText)
	}
	if run.AudioRef != "" {
		fmt.Fprintf(w, "\nAudio: %s\n", run.AudioRef)
		if run.AudioAccuracy != nil {
			fmt.Fprintf(w, "Audio accuracy: %.2f\n", *run.AudioAccuracy)
		}
	}
}
