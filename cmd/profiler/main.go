package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	img "github.com/meigma/img/core"
)

type config struct {
	mode       string
	files      int
	fileSize   int
	pattern    string
	allocation string
	staging    string
	workers    int
	duration   time.Duration
	iterations int
	pprofAddr  string
	cpuProfile string
	memProfile string
	traceFile  string
	readRandom bool
	tempDir    string
	keepTemp   bool
	randomSeed int64
	declared   string
}

//nolint:unused // sink variables prevent compiler optimizations in profiling
var (
	sinkBytes []byte
	sinkEntry img.Entry
	sinkCount int
)

//nolint:gocognit,gocyclo // main function complexity is acceptable for CLI tool
func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	dir, cleanup, err := setupTempDir(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if cleanup != nil {
		defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler
	}

	srcDir := filepath.Join(dir, "src")
	names, err := makeFiles(srcDir, cfg.files, cfg.fileSize, cfg.pattern, cfg.randomSeed)
	if err != nil {
		log.Fatal(err) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
	}

	opts, err := archiveOptions(cfg, dir)
	if err != nil {
		log.Fatal(err)
	}
	a, err := img.Create(context.Background(), srcDir, filepath.Join(dir, "profile.img"), img.CreateWithOptions(opts...))
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(cfg, a, names, dir, srcDir, opts)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
		cfg.mode,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
	)
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

//nolint:gocognit,gocyclo,gocritic // complexity is inherent to multi-mode profiler dispatch; hugeParam acceptable for profiler
func runProfile(cfg config, a *img.Archive, names []string, rootDir, srcDir string, opts []img.Option) (profileStats, error) {
	start := time.Now()
	ops := 0
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks

	switch cfg.mode {
	case "extract":
		for shouldContinue() {
			content, err := a.ExtractToMemory(pickName(names, ops, rng, cfg.readRandom))
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = content
			byteCount += int64(len(content))
			ops++
		}

	case "lookup":
		for shouldContinue() {
			name := pickName(names, ops, rng, cfg.readRandom)
			e, ok := a.Entry(name)
			if !ok {
				return profileStats{}, fmt.Errorf("missing entry for %q", name)
			}
			sinkEntry = e
			ops++
		}

	case "digest":
		for shouldContinue() {
			name := pickName(names, ops, rng, cfg.readRandom)
			e, _ := a.Entry(name)
			d, err := a.Digest(name)
			if err != nil {
				return profileStats{}, err
			}
			sinkCount = len(d)
			byteCount += int64(e.ByteLength())
			ops++
		}

	case "extractall":
		destDir := filepath.Join(rootDir, "extract")
		for shouldContinue() {
			stats, err := a.ExtractAll(context.Background(), destDir,
				img.ExtractWithWorkers(cfg.workers),
				img.ExtractWithOverwrite(true),
			)
			if err != nil {
				return profileStats{}, err
			}
			sinkCount = stats.Processed
			byteCount += int64(stats.TotalBytes) //nolint:gosec // bounded by archive size
			ops++
		}

	case "save":
		payload := make([]byte, cfg.fileSize)
		for shouldContinue() {
			if _, err := rng.Read(payload); err != nil {
				return profileStats{}, err
			}
			if err := a.Replace(pickName(names, ops, rng, cfg.readRandom), payload); err != nil {
				return profileStats{}, err
			}
			stats, err := a.Save()
			if err != nil {
				return profileStats{}, err
			}
			byteCount += stats.Bytes
			ops++
		}

	case "create":
		for shouldContinue() {
			path := filepath.Join(rootDir, fmt.Sprintf("create-%d.img", ops))
			created, err := img.Create(context.Background(), srcDir, path, img.CreateWithOptions(opts...))
			if err != nil {
				return profileStats{}, err
			}
			sinkCount = created.Len()
			if err := created.Close(); err != nil {
				return profileStats{}, err
			}
			info, err := os.Stat(path)
			if err != nil {
				return profileStats{}, err
			}
			byteCount += info.Size()
			if err := os.Remove(path); err != nil {
				return profileStats{}, err
			}
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		bytes:   byteCount,
		elapsed: time.Since(start),
	}, nil
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.mode, "mode", "extract", "mode: extract, lookup, digest, extractall, save, create")
	flag.IntVar(&cfg.files, "files", 512, "number of files")
	flag.IntVar(&cfg.fileSize, "file-size", 16<<10, "file size in bytes (at most 134215680)")
	flag.StringVar(&cfg.pattern, "pattern", "fill", "pattern: fill or random")
	flag.StringVar(&cfg.allocation, "allocation", "contiguous", "allocation: contiguous or legacy")
	flag.StringVar(&cfg.staging, "staging", "memory", "staging: memory or file")
	flag.IntVar(&cfg.workers, "workers", 0, "extractall workers: <1 extracts serially")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.BoolVar(&cfg.readRandom, "read-random", true, "randomize entry selection")
	flag.StringVar(&cfg.tempDir, "temp-dir", "", "directory to use for dataset")
	flag.BoolVar(&cfg.keepTemp, "keep-temp", false, "keep temp dir after run")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.StringVar(&cfg.declared, "declared-size", "saturate", "declared size above 65535 bytes: saturate or lowbits")
	flag.Parse()
	if cfg.files <= 0 {
		log.Fatal("files must be positive")
	}
	if cfg.fileSize < 0 || cfg.fileSize > img.MaxPayloadSize {
		log.Fatalf("file-size %d out of range", cfg.fileSize)
	}
	return cfg
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func archiveOptions(cfg config, dir string) ([]img.Option, error) {
	opts := []img.Option{img.WithSync(false)}
	switch cfg.allocation {
	case "contiguous":
	case "legacy":
		opts = append(opts, img.WithAllocation(img.AllocateLegacy))
	default:
		return nil, fmt.Errorf("unknown allocation: %s", cfg.allocation)
	}
	switch cfg.staging {
	case "memory":
	case "file":
		opts = append(opts, img.WithScratchDir(dir))
	default:
		return nil, fmt.Errorf("unknown staging: %s", cfg.staging)
	}
	switch cfg.declared {
	case img.DeclareSaturate.String():
	case img.DeclareLowBits.String():
		opts = append(opts, img.WithDeclaredSize(img.DeclareLowBits))
	default:
		return nil, fmt.Errorf("unknown declared size policy: %s", cfg.declared)
	}
	return opts, nil
}

func pickName(names []string, idx int, rng *rand.Rand, random bool) string {
	if random {
		return names[rng.Intn(len(names))]
	}
	return names[idx%len(names)]
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func setupTempDir(cfg config) (string, func() error, error) {
	if cfg.tempDir != "" {
		return cfg.tempDir, nil, os.MkdirAll(cfg.tempDir, 0o755) //nolint:gosec // 0o755 is intentional for profiler temp dirs
	}
	dir, err := os.MkdirTemp("", "img-profiler-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() error {
		if cfg.keepTemp {
			return nil
		}
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}

// makeFiles writes fileCount flat source files and returns their names.
func makeFiles(dir string, fileCount, fileSize int, pattern string, seed int64) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // 0o755 is intentional for profiler
		return nil, err
	}
	names := make([]string, 0, fileCount)
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // intentional use for reproducible benchmarks
	for i := range fileCount {
		name := fmt.Sprintf("file%05d.dat", i)

		content := make([]byte, fileSize)
		switch pattern {
		case "random":
			if _, err := rng.Read(content); err != nil {
				return nil, err
			}
		default:
			fillByte := byte('a' + (i % 26))
			for j := range content {
				content[j] = fillByte
			}
			if len(content) > 0 {
				content[0] = byte(i)
			}
		}

		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil { //nolint:gosec // 0o644 is intentional for profiler test files
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}
