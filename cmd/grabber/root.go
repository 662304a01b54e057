package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-grab-ebooks/config"
	"github.com/aluiziolira/go-grab-ebooks/delivery"
	"github.com/aluiziolira/go-grab-ebooks/pipeline"
	"github.com/aluiziolira/go-grab-ebooks/scraper"
)

const successMessage = "good, looks like all went well! :-)"

type flags struct {
	grab, grabLog, grabDownload bool
	downloadAll, downloadChosen bool
	upload, mail, folder        bool
	list, statusMail, progress  bool
	verbose                     bool
	configPath                  string
	logFile                     string
	metricsFile                 string
}

func (f *flags) options() pipeline.Options {
	return pipeline.Options{
		Grab:           f.grab,
		GrabLog:        f.grabLog,
		GrabDownload:   f.grabDownload,
		DownloadAll:    f.downloadAll,
		DownloadChosen: f.downloadChosen,
		Upload:         f.upload,
		Mail:           f.mail,
		List:           f.list,
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "grabber",
		Short: "Claims the daily free ebook and downloads your library",
		Long: `grabber logs into your account, claims the free ebook of the day and
downloads the titles you own in the formats you choose. Downloaded files can be
uploaded to Google Drive or sent by email.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f, cmd.OutOrStdout())
		},
	}

	fl := cmd.Flags()
	fl.BoolVarP(&f.grab, "grab", "g", false, "claim the daily ebook")
	fl.BoolVar(&f.grabLog, "grabl", false, "claim the daily ebook and log its metadata")
	fl.BoolVar(&f.grabDownload, "grabd", false, "claim the daily ebook and download it")
	fl.BoolVar(&f.downloadAll, "dall", false, "download every ebook in your library")
	fl.BoolVar(&f.downloadChosen, "dchosen", false, "download the titles listed in downloadBookTitles")
	fl.BoolVar(&f.upload, "sgd", false, "claim, download and upload the daily ebook to Google Drive")
	fl.BoolVarP(&f.mail, "mail", "m", false, "claim, download and email the daily ebook")
	fl.BoolVarP(&f.folder, "folder", "f", false, "store each title in its own folder")
	fl.StringVarP(&f.configPath, "config", "c", "configFile.cfg", "configuration file")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
	fl.BoolVar(&f.list, "list", false, "print your library")
	fl.BoolVar(&f.statusMail, "status-mail", false, "mail the outcome of the run")
	fl.StringVar(&f.logFile, "log-file", "grabber.log", "rotating debug log file (empty to disable)")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	fl.BoolVar(&f.progress, "progress", false, "show transfer progress bars")

	return cmd
}

func run(ctx context.Context, f *flags, out io.Writer) error {
	logger, closeLog := newLogger(f.verbose, f.logFile)
	defer closeLog()
	slog.SetDefault(logger)

	cfg, err := loadConfig(f)
	if err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		return err
	}

	metrics := scraper.NewMetrics()
	defer func() {
		if err := metrics.WriteTextfile(f.metricsFile); err != nil {
			logger.Error("write metrics", slog.Any("error", err))
		}
	}()

	session, err := scraper.NewSession(cfg, scraper.WithLogger(logger), scraper.WithMetrics(metrics))
	if err != nil {
		logger.Error("initialising session", slog.Any("error", err))
		return err
	}

	dlOpts := []pipeline.DownloaderOption{
		pipeline.WithDownloadLogger(logger),
		pipeline.WithDownloadMetrics(metrics),
		pipeline.WithSubfolders(f.folder),
	}
	var bars *progressBars
	if f.progress {
		bars = newProgressBars(os.Stderr)
		dlOpts = append(dlOpts, pipeline.WithProgress(bars.track))
	}
	downloader := pipeline.NewDownloader(session, cfg, dlOpts...)

	pOpts := []pipeline.Option{pipeline.WithLogger(logger)}
	if f.grabLog {
		writer, err := pipeline.NewMetadataWriter(cfg.MetadataFormat, cfg.MetadataLogPath)
		if err != nil {
			logger.Error("open metadata log", slog.Any("error", err))
			return err
		}
		defer writer.Close()
		pOpts = append(pOpts, pipeline.WithMetadataWriter(writer))
	}
	if f.upload {
		client, err := delivery.DriveClient(ctx, cfg.Drive, os.Stdin, out)
		if err != nil {
			logger.Error("google drive authorisation", slog.Any("error", err))
			return err
		}
		uploader, err := delivery.NewDriveUploader(ctx, client, logger)
		if err != nil {
			logger.Error("google drive", slog.Any("error", err))
			return err
		}
		pOpts = append(pOpts, pipeline.WithUploader(uploader))
	}
	var mailer *delivery.Mailer
	if f.mail || f.statusMail {
		mailer = delivery.NewMailer(cfg.Mail, logger)
		if f.mail {
			pOpts = append(pOpts, pipeline.WithMailer(mailer))
		}
	}

	start := time.Now()
	report, runErr := pipeline.New(cfg, session, downloader, pOpts...).Run(ctx, f.options())
	if bars != nil {
		bars.stop()
	}

	if f.list && len(report.Inventory) > 0 {
		fmt.Fprintln(out, renderInventory(report.Inventory))
	}
	fmt.Fprintln(out, renderSummary(report, time.Since(start)))

	if f.statusMail {
		subject, body := statusMessage(report, runErr)
		if err := mailer.SendInfo(subject, body); err != nil {
			logger.Warn("status mail not sent", slog.Any("error", err))
		}
	}

	if runErr != nil {
		var fatal *scraper.FatalError
		step := ""
		if errors.As(runErr, &fatal) {
			step = fatal.Step
		}
		logger.Error("run failed", slog.String("step", step), slog.String("error_type", scraper.ErrorType(runErr)), slog.Any("error", runErr))
		return runErr
	}

	fmt.Fprintln(out, successMessage)
	return nil
}

func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if f.upload {
		if err := cfg.ValidateDrive(); err != nil {
			return nil, err
		}
	}
	if f.mail || f.statusMail {
		if err := cfg.ValidateMail(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func statusMessage(report *pipeline.Report, err error) (string, string) {
	var b strings.Builder
	if report.Claimed != "" {
		fmt.Fprintf(&b, "Claimed: %s\n", report.Claimed)
	}
	if d := report.Download; d != nil {
		fmt.Fprintf(&b, "Downloaded: %d, skipped: %d, failed: %d\n", d.Downloaded, d.Skipped, len(d.Errors))
		for _, e := range d.Errors {
			fmt.Fprintf(&b, "  %v\n", e)
		}
	}
	if err != nil {
		fmt.Fprintf(&b, "Error: %v\n", err)
		return "Ebook grabber run failed", b.String()
	}
	return "Ebook grabber run finished", b.String()
}
