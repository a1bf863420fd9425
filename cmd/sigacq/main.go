package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/sigacq/sigacq"
	"github.com/sigacq/sigacq/internal/npyexport"
	"github.com/sigacq/sigacq/internal/sweepdb"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		err2 := os.MkdirAll(dir, 0775)
		if err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find config
// files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("Verbose", false)
	viper.SetDefault("transport", "sim")
	viper.SetDefault("tcp.address", "127.0.0.1:5025")
	viper.SetDefault("serial.device", "/dev/ttyACM0")
	viper.SetDefault("serial.baud", 115200)
	viper.SetDefault("sweep.starthz", 100e6)
	viper.SetDefault("sweep.stophz", 200e6)
	viper.SetDefault("sweep.points", 1000)
	viper.SetDefault("sweep.rbwhz", 600000)
	viper.SetDefault("export.enable", false)
	viper.SetDefault("export.directory", "$HOME/.sigacq/sweeps")
	viper.SetDefault("database.enable", false)

	HOME, err := os.UserHomeDir()
	if err != nil { // Handle errors reading the config file
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotSigacq := filepath.Join(HOME, ".sigacq")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotSigacq, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/sigacq"))
	viper.AddConfigPath(dotSigacq)
	viper.AddConfigPath(".")
	err = viper.ReadInConfig() // Find and read the config file
	if err != nil {            // Handle errors reading the config file
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		msg := fmt.Sprintf("Could not open log file '%s'", pfname)
		panic(msg)
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

// openTransport builds the byte transport selected by the configuration.
func openTransport() (sigacq.Transport, error) {
	switch kind := viper.GetString("transport"); kind {
	case "sim":
		return sigacq.NewSimTransport(sigacq.NewSimSpectrumDevice().Handle), nil
	case "tcp":
		return sigacq.NewTCPTransport(viper.GetString("tcp.address"))
	case "serial":
		return sigacq.NewSerialTransport(viper.GetString("serial.device"), viper.GetInt("serial.baud"))
	default:
		return nil, fmt.Errorf("unknown transport type %q (want sim, tcp, or serial)", kind)
	}
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	sigacq.Build.Date = buildDate
	sigacq.Build.Githash = githash
	sigacq.Build.Gitdate = gitdate
	sigacq.Build.Summary = fmt.Sprintf("sigacq version %s (git commit %s of %s)", sigacq.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		sigacq.Build.Host = host
	} else {
		sigacq.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is sigacq version %s\n", sigacq.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is sigacq version %s (git commit %s)\n", sigacq.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Start logging problems and updates to 2 log files.
	HOME, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(HOME, ".sigacq", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	sigacq.ProblemLogger = startLogger(problemname)
	sigacq.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging client updates to %s\n\n", logname)
	sigacq.UpdateLogger.Printf("\n\n\n\n%s", banner)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(); err != nil {
		panic(err)
	}
	checkReceiveBuffer()

	transport, err := openTransport()
	if err != nil {
		log.Fatal(err)
	}
	analyzer, err := sigacq.NewSpectrumAnalyzer(sigacq.NewConversation(transport))
	if err != nil {
		log.Fatalf("could not bring up the analyzer: %v", err)
	}
	fmt.Printf("Connected: %s %s (firmware %s)\n", analyzer.Vendor(), analyzer.Model(), analyzer.FwVersion())

	analyzer.SetSampleDepth(viper.GetInt("sweep.points"))
	start, stop := viper.GetInt64("sweep.starthz"), viper.GetInt64("sweep.stophz")
	if err := analyzer.SetCenterFrequency((start + stop) / 2); err != nil {
		log.Fatal(err)
	}
	if err := analyzer.SetSpan(stop - start); err != nil {
		log.Fatal(err)
	}
	if err := analyzer.SetResolutionBandwidth(viper.GetInt64("sweep.rbwhz")); err != nil {
		log.Fatal(err)
	}

	ch := analyzer.Channel(0)
	ch.AddRef()
	defer ch.Release()

	abort := make(chan struct{})
	messages := make(chan sigacq.ClientUpdate, 64)
	go sigacq.RunClientUpdater(messages, abort, sigacq.Ports.Status)

	db := sweepdb.DummyConnection()
	if viper.GetBool("database.enable") {
		session := &sweepdb.SessionMessage{
			ID:        sweepdb.NewSweepID(),
			Hostname:  sigacq.Build.Host,
			Githash:   githash,
			Version:   sigacq.Build.Version,
			GoVersion: runtime.Version(),
			Start:     time.Now(),
		}
		db = sweepdb.StartConnection(session, abort)
	}

	var exporter *npyexport.Writer
	if viper.GetBool("export.enable") {
		exportName, err := makeFileExist(viper.GetString("export.directory"),
			time.Now().Format("20060102_150405")+".npy")
		if err != nil {
			log.Fatal(err)
		}
		if exporter, err = npyexport.Create(exportName, analyzer.SampleDepth()); err != nil {
			log.Fatal(err)
		}
		defer exporter.Close()
		fmt.Printf("Exporting sweeps to %s\n", exportName)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	analyzer.Start()
	var nsweeps int64
	running := true
	for running {
		select {
		case s := <-sigc:
			fmt.Printf("Caught %v, shutting down\n", s)
			running = false
			continue
		default:
		}

		sweepStarted := time.Now()
		if err := analyzer.AcquireData(); err != nil {
			sigacq.ProblemLogger.Printf("sweep failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for {
			set, ok := analyzer.PopSequenceSet()
			if !ok {
				break
			}
			nsweeps++
			publishSweep(set, messages, db, exporter, analyzer, sweepStarted)
		}
		select {
		case messages <- sigacq.StatusUpdate(true, nsweeps):
		default:
		}
	}

	analyzer.Stop()
	select {
	case messages <- sigacq.StatusUpdate(false, nsweeps):
	default:
	}
	close(abort)
	db.Wait()
	sigacq.UpdateLogger.Printf("sigacq exiting after %d sweeps", nsweeps)
	writeMemoryProfile(memprofile)
}

// publishSweep fans one completed sequence set out to the status socket, the
// npy exporter, and the database.
func publishSweep(set sigacq.SequenceSet, messages chan<- sigacq.ClientUpdate,
	db *sweepdb.Connection, exporter *npyexport.Writer,
	analyzer *sigacq.SpectrumAnalyzer, started time.Time) {

	for _, update := range sigacq.SweepUpdates(set) {
		select {
		case messages <- update:
		default: // never stall acquisition on a slow subscriber
		}
	}

	for ch, w := range set {
		uw, ok := w.(*sigacq.UniformWaveform)
		if !ok {
			continue
		}
		if exporter != nil {
			if err := exporter.AppendRow(uw.Samples); err != nil {
				sigacq.ProblemLogger.Printf("npy export failed: %v", err)
			}
		}
		msg := &sweepdb.SweepMessage{
			ID:      sweepdb.NewSweepID(),
			Channel: ch.DisplayName(),
			Points:  uw.Len(),
			StartHz: float64(uw.TriggerPhase()),
			StopHz:  float64(uw.TriggerPhase() + int64(uw.Len())*uw.Timescale()),
			RbwHz:   float64(analyzer.ResolutionBandwidth()),
			Start:   started,
			End:     time.Now(),
		}
		if peaks := ch.Peaks(); len(peaks) > 0 {
			msg.PeakHz = float64(peaks[0].X)
			msg.PeakDBm = float64(peaks[0].Y)
		}
		db.RecordSweep(msg)
	}
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If `memprofile` points to an empty string, do not write.
func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}

	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close() // error handling omitted for example
	runtime.GC()    // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
