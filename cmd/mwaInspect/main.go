//Package main provides a cli interface for mwaSuite. It prints the context of an observation, stores a coverage plot
//and optionally computes a summary over the common data or serves the context over http
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pbnjay/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mwaSuite/correlator"
	"mwaSuite/coveragePlot"
	"mwaSuite/fitsSource"
	"mwaSuite/httpStatus"
	"mwaSuite/readMetrics"
	"mwaSuite/visSummary"
	"mwaSuite/voltage"
)

//Giga SI unit prefix
const Giga = 1024 * 1024 * 1024

//application bundles the command line configuration options
type application struct {
	metafitsPath  string
	dataPaths     []string
	isVoltage     bool
	summaryName   string
	numWorkers    int
	maxMemoryInGB int
	outFolderPath string
	serveAddr     string
	verbose       bool

	summaryCreator visSummary.SummaryCreator
	//decoder is replaced by tests
	decoder fitsSource.Decoder
	log     *logrus.Logger
}

//closeWithErrLog is a helper that calls Close on c and logs a message if an error occurs
func closeWithErrLog(log logrus.FieldLogger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warnf("failed to close %v : %v", name, err)
	}
}

var errCollisionAvoidanceFailed = errors.New("unable to avoid file/folder name collision, using returned name may overwrite data ")

//defaultCreateCollisionFreeName is a convenience wrapper for createCollisionFreeName checking for
//collision using os.Stat
func defaultCreateCollisionFreeName(outPath string) (string, error) {
	return createCollisionFreeName(outPath, func(path string) bool {
		_, err := os.Stat(path)
		return !os.IsNotExist(err)
	})
}

//createCollisionFreeName checks if outPath already exists and tries to add numbers from 1 to 100 as suffix
//to find a unused name. If all are taken errCollisionAvoidanceFailed is returned
func createCollisionFreeName(outPath string, doesFileExist func(path string) bool) (string, error) {
	outPathDir := filepath.Dir(outPath)

	//split filename by "." to separate name and extensions (if it exists, else set it to "")
	fileNameTokens := strings.Split(filepath.Base(outPath), ".")
	fileExtension := ""
	if len(fileNameTokens) > 1 {
		fileExtension = fileNameTokens[1]
	}

	nameCandidate := filepath.Base(outPath)
	suffix := 1
	fileNameCollision := doesFileExist(outPath)
	for fileNameCollision && suffix < 100 {
		if fileExtension != "" {
			nameCandidate = fmt.Sprintf("%v-%v.%v", strings.Split(path.Base(outPath), ".")[0], suffix, fileExtension)
		} else {
			nameCandidate = fmt.Sprintf("%v-%v", strings.Split(path.Base(outPath), ".")[0], suffix)
		}
		fileNameCollision = doesFileExist(filepath.Join(outPathDir, nameCandidate))
		if fileNameCollision {
			suffix++
		}
	}
	result := filepath.Join(outPathDir, nameCandidate)
	if fileNameCollision {
		return result, errCollisionAvoidanceFailed
	}
	return result, nil
}

//StoreAsCSV stores values as a single csv record in folderPath
func StoreAsCSV(values []float64, folderPath, name string) error {
	valuesAsStrings := make([]string, len(values))
	for i := range values {
		valuesAsStrings[i] = strconv.FormatFloat(values[i], 'f', -1, 64)
	}
	resultFile, err := os.Create(filepath.Join(folderPath, fmt.Sprintf("values-%s.csv", name)))
	if err != nil {
		return fmt.Errorf("failed to create output file : %v", err)
	}
	defer resultFile.Close()

	csvWriter := csv.NewWriter(resultFile)
	if err := csvWriter.Write(valuesAsStrings); err != nil {
		return fmt.Errorf("failed to write to output file %v : %v", resultFile.Name(), err)
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush to output file %v : %v", resultFile.Name(), err)
	}
	return resultFile.Sync()
}

//StoreCoverage writes the channel coverage per timestep as csv and png to folderPath
func StoreCoverage(provided coveragePlot.ProvidedFunc, numTimesteps, numChannels int, folderPath string) error {
	counts := coveragePlot.Counts(provided, numTimesteps, numChannels)
	if err := StoreAsCSV(counts, folderPath, "coverage"); err != nil {
		return err
	}
	plotFile, err := os.Create(filepath.Join(folderPath, "coverage.png"))
	if err != nil {
		return fmt.Errorf("failed to create plot file : %v", err)
	}
	defer plotFile.Close()
	if err := coveragePlot.PlotAndStore(counts, numChannels, plotFile); err != nil {
		return err
	}
	return plotFile.Sync()
}

//validate checks the parsed flags and resolves the summary creator. Checks that need the context are done in run
func (app *application) validate() error {
	if app.metafitsPath == "" {
		return fmt.Errorf("please set path to the metafits file")
	}
	if app.isVoltage && len(app.dataPaths) == 0 {
		return fmt.Errorf("please provide at least one voltage file")
	}
	if app.numWorkers < 1 {
		return fmt.Errorf("please set workers to a number in [1,%v]", runtime.NumCPU())
	}
	if app.maxMemoryInGB < 1 {
		return fmt.Errorf("memory limit needs to be at least one GB")
	}
	if uint64(app.maxMemoryInGB) > memory.TotalMemory()/Giga {
		return fmt.Errorf("your memory limit is larger than the available memory")
	}
	if app.summaryName != "" {
		if app.isVoltage {
			return fmt.Errorf("summaries are only available for correlator data")
		}
		var err error
		if app.summaryCreator, err = visSummary.GetSummaryCreator(app.summaryName); err != nil {
			return fmt.Errorf("failed to instantiate summary creator : %v", err)
		}
	}
	//set default value, may be changed by file name collision avoidance system
	if app.outFolderPath == "" {
		app.outFolderPath = fmt.Sprintf("%s-results", strings.TrimSuffix(filepath.Base(app.metafitsPath),
			filepath.Ext(app.metafitsPath)))
	}
	if app.decoder == nil {
		app.decoder = fitsSource.FitsDecoder{}
	}
	if app.log == nil {
		app.log = logrus.StandardLogger()
	}
	if app.verbose {
		app.log.SetLevel(logrus.DebugLevel)
	}
	return nil
}

//prepareOutFolder creates a collision free output directory
func (app *application) prepareOutFolder() error {
	var err error
	app.outFolderPath, err = defaultCreateCollisionFreeName(app.outFolderPath)
	if err != nil {
		if errors.Is(err, errCollisionAvoidanceFailed) {
			//overwrite instead of deleting anything
			app.log.Warnf("failed to avoid file name collision, overwriting %v", app.outFolderPath)
		} else {
			app.outFolderPath = filepath.Join(os.TempDir(), strconv.FormatInt(rand.Int63(), 10))
			app.log.Warnf("Failed to generate output folder name, resorting to %v", app.outFolderPath)
		}
	}
	if err := os.MkdirAll(app.outFolderPath, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output directory %v : %v", app.outFolderPath, err)
	}
	return nil
}

func (app *application) runVoltage(out io.Writer, metrics *readMetrics.Metrics) error {
	ctx, err := voltage.New(app.metafitsPath, app.dataPaths, voltage.Config{
		Decoder:      app.decoder,
		Opener:       voltage.OSOpener{},
		ProbeWorkers: app.numWorkers,
		Logger:       app.log,
		Metrics:      metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build voltage context : %w", err)
	}
	fmt.Fprint(out, ctx.String())
	if err := app.prepareOutFolder(); err != nil {
		return err
	}
	return StoreCoverage(ctx.Provided, len(ctx.Timesteps), len(ctx.CoarseChannels), app.outFolderPath)
}

func (app *application) runCorrelator(out io.Writer, reg *prometheus.Registry, metrics *readMetrics.Metrics) error {
	ctx, err := correlator.New(app.metafitsPath, app.dataPaths, correlator.Config{
		Decoder:      app.decoder,
		ProbeWorkers: app.numWorkers,
		Logger:       app.log,
		Metrics:      metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build correlator context : %w", err)
	}
	fmt.Fprint(out, ctx.String())

	if need := uint64(app.numWorkers) * uint64(ctx.NumTimestepCoarseChannelBytes()); need > uint64(app.maxMemoryInGB)*Giga {
		return fmt.Errorf("%v workers need %v bytes of read buffers which exceeds the memory limit", app.numWorkers, need)
	}

	if err := app.prepareOutFolder(); err != nil {
		return err
	}
	if err := StoreCoverage(ctx.Provided, len(ctx.Timesteps), len(ctx.CoarseChannels), app.outFolderPath); err != nil {
		return err
	}

	if app.summaryCreator != nil {
		shape := visSummary.Shape{NumAntennas: ctx.Metafits.NumAntennas(), NumFineChannels: ctx.NumFineChannelsPerCoarse}
		res, err := visSummary.Run(context.Background(), ctx, shape, visSummary.CommonGoodJobs(ctx.TimestepSets,
			ctx.ChannelSets), visSummary.Config{
			Workers: app.numWorkers,
			Creator: app.summaryCreator,
			Logger:  app.log,
		})
		if err != nil {
			return fmt.Errorf("summary %v failed : %w", app.summaryName, err)
		}
		values, err := res.Summary.Finalize()
		if err != nil {
			return fmt.Errorf("failed to finalize summary %v : %w", app.summaryName, err)
		}
		fmt.Fprintf(out, "%v over %v reads (%v skipped)\n", app.summaryName, res.Reads, res.Skipped)
		if err := StoreAsCSV(values, app.outFolderPath, app.summaryName); err != nil {
			return err
		}
		p, err := coveragePlot.PlotValues(app.summaryName, "Index", values)
		if err != nil {
			return err
		}
		plotFile, err := os.Create(filepath.Join(app.outFolderPath, fmt.Sprintf("plot-%s.png", app.summaryName)))
		if err != nil {
			return fmt.Errorf("failed to create plot file : %v", err)
		}
		defer closeWithErrLog(app.log, plotFile.Name(), plotFile)
		if err := coveragePlot.Store(p, plotFile); err != nil {
			return err
		}
	}

	if app.serveAddr != "" {
		return app.serve(ctx, reg)
	}
	return nil
}

//serve blocks until an interrupt signal is received
func (app *application) serve(ctx *correlator.Context, reg *prometheus.Registry) error {
	srv := &http.Server{
		Addr:    app.serveAddr,
		Handler: httpStatus.NewStatus(ctx, reg, app.log).Routes(),
	}
	shutdownRequest := make(chan os.Signal, 1)
	signal.Notify(shutdownRequest, os.Interrupt)
	go func() {
		<-shutdownRequest
		app.log.Info("initiating shutdown...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.log.Warnf("graceful server shutdown failed : %v", err)
		}
	}()
	app.log.Infof("Listening on %v", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webserver crashed : %v", err)
	}
	return nil
}

//run builds the context described by app and stores the results
func (app *application) run(out io.Writer) error {
	reg := prometheus.NewRegistry()
	metrics, err := readMetrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics : %v", err)
	}
	if app.isVoltage {
		return app.runVoltage(out, metrics)
	}
	return app.runCorrelator(out, reg, metrics)
}

func newRootCmd(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mwaInspect [data files...]",
		Short: "Inspect an MWA observation",
		Long: fmt.Sprintf("Builds the context of a metafits file and its gpubox (or voltage) files, prints it and "+
			"stores a coverage plot. Available summaries: %v", visSummary.GetAvailableSummaries()),
		RunE: func(cmd *cobra.Command, args []string) error {
			app.dataPaths = args
			if err := app.validate(); err != nil {
				return err
			}
			return app.run(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&app.metafitsPath, "metafits", "m", "", "Path to the metafits file")
	cmd.Flags().BoolVar(&app.isVoltage, "voltage", false, "Treat data files as voltage files")
	cmd.Flags().StringVarP(&app.summaryName, "summary", "s", "", "Summary computed over the common good data")
	cmd.Flags().IntVarP(&app.numWorkers, "workers", "w", runtime.NumCPU(), "Number of concurrent readers")
	cmd.Flags().IntVar(&app.maxMemoryInGB, "maxMemoryGB", 2, "Memory allowed for read buffers in GB")
	cmd.Flags().StringVarP(&app.outFolderPath, "out", "o", "", "Directory path for saving results. Defaults to a folder named after the metafits file")
	cmd.Flags().StringVar(&app.serveAddr, "serve", "", "If set, serve the context on this address until interrupted")
	cmd.Flags().BoolVarP(&app.verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

func main() {
	if err := newRootCmd(&application{}).Execute(); err != nil {
		os.Exit(1)
	}
}
