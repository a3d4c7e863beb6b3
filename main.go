// Command readaloud narrates an HTML document aloud, section by section.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/net/html"

	"github.com/dgnsrekt/readaloud/narrate"
	"github.com/dgnsrekt/readaloud/narrate/engines/espeak"
	"github.com/dgnsrekt/readaloud/narrate/engines/mock"
	"github.com/dgnsrekt/readaloud/narrate/highlight"
	"github.com/dgnsrekt/readaloud/narrate/sentence"
	"github.com/dgnsrekt/readaloud/reader"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	sectionArg string
	engineName string
	listOnly   bool
	loopMode   bool
	noProgress bool

	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	elementStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	noticeStyle  = lipgloss.NewStyle().Faint(true)

	rootCmd = &cobra.Command{
		Use:   "readaloud FILE",
		Short: "Read an HTML document aloud, with pizzazz!",
		Long: "Read an HTML document aloud, one heading, paragraph or landmark\n" +
			"at a time, printing each element as it is spoken. Use --section to\n" +
			"start from a named section, or --list to print the table of contents.",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE:         execute,
	}
)

func init() {
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.Flags().StringVar(&configFile, "config", "", "config file (default: $HOME/.config/readaloud/config.yml)")
	rootCmd.Flags().StringVarP(&sectionArg, "section", "s", "", "start from the section with this title")
	rootCmd.Flags().StringVar(&engineName, "engine", "espeak", "narration engine (espeak, mock)")
	rootCmd.Flags().BoolVarP(&listOnly, "list", "l", false, "print the table of contents and exit")
	rootCmd.Flags().BoolVar(&loopMode, "loop", false, "wrap to the start after the last element")
	rootCmd.Flags().BoolVar(&noProgress, "no-auto-progress", false, "do not continue into the next section")
	rootCmd.Flags().String("voice", "", "narration voice")
	rootCmd.Flags().Float64("rate", 0, "speech rate multiplier")
	rootCmd.Flags().Float64("pitch", 0, "pitch multiplier")
	rootCmd.Flags().Float64("volume", 0, "volume, 0 to 1")

	_ = viper.BindPFlag("voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("rate", rootCmd.Flags().Lookup("rate"))
	_ = viper.BindPFlag("pitch", rootCmd.Flags().Lookup("pitch"))
	_ = viper.BindPFlag("volume", rootCmd.Flags().Lookup("volume"))
	viper.SetDefault("voice", "")
	viper.SetDefault("rate", 0.0)
	viper.SetDefault("pitch", 0.0)
	viper.SetDefault("volume", 0.0)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func execute(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close() //nolint:errcheck

	doc, err := html.Parse(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(args[0]), err)
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Shutdown() //nolint:errcheck

	done := make(chan struct{})
	r, err := reader.New(doc, engine, cfg, reader.Options{
		Highlighter: highlight.New(highlight.DefaultStyle()),
		Hooks: narrate.Hooks{
			OnQueueEnd: func() { close(done) },
			OnSectionChange: func(i int) {
				fmt.Println(noticeStyle.Render(fmt.Sprintf("— section %d —", i)))
			},
			OnError: func(err error, el *narrate.ReadableElement) {
				log.Warn("narration failed", "element", el.ID, "err", err)
			},
		},
		ElementCallbacks: narrate.Callbacks{
			OnStart: printElement,
		},
	})
	if err != nil {
		return err
	}

	if listOnly {
		return printSections(r)
	}

	if sectionArg != "" {
		err = r.ReadSection(sectionArg)
	} else {
		err = r.ReadAll()
	}
	if err != nil {
		return err
	}

	<-done
	return nil
}

func printElement(el *narrate.ReadableElement) {
	switch el.Type {
	case narrate.TypeHeading:
		fmt.Println(headingStyle.Render(el.Text))
	default:
		fmt.Println(elementStyle.Render(el.Text))
	}
}

func printSections(r *reader.Reader) error {
	refs := r.Sections()
	if len(refs) == 0 {
		return errors.New("no sections found")
	}
	for _, ref := range refs {
		fmt.Printf("%s\t%s\n", ref.Selector, ref.Title)
	}
	return nil
}

// loadConfig layers the environment, the config file and flags over the
// defaults.
func loadConfig(cmd *cobra.Command) (narrate.Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "readaloud"))
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			log.Debug("config file not loaded", "err", err)
		}
	}

	cfg, err := narrate.LoadConfig()
	if err != nil {
		return cfg, err
	}
	if v := viper.GetString("voice"); v != "" {
		cfg.Voice = v
	}
	if v := viper.GetFloat64("rate"); v != 0 {
		cfg.Rate = v
	}
	if v := viper.GetFloat64("pitch"); v != 0 {
		cfg.Pitch = v
	}
	if cmd.Flags().Changed("volume") || viper.InConfig("volume") {
		cfg.Volume = viper.GetFloat64("volume")
	}
	if loopMode {
		cfg.LoopMode = true
	}
	if noProgress {
		cfg.AutoProgress = false
	}
	return cfg, cfg.Validate()
}

func buildEngine(cfg narrate.Config) (narrate.Engine, error) {
	switch engineName {
	case "espeak":
		return espeak.New("", log.Default()), nil
	case "mock":
		m := mock.New()
		go driveMock(m, cfg.Rate)
		return m, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", engineName)
	}
}

// driveMock completes pending mock requests after an estimated speaking
// duration, so the CLI works without a synthesizer installed.
func driveMock(m *mock.Engine, rate float64) {
	for {
		req, ok := m.Pending()
		if !ok {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		time.Sleep(sentence.EstimateDuration(req.Text, rate))
		if cur, ok := m.Pending(); ok && cur.ID == req.ID {
			_ = m.Finish()
		}
	}
}
