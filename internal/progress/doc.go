// Package progress computes and renders transfer progress.
//
// Calculate derives completion percentage and throughput from the cumulative
// byte count, the declared total size and the elapsed time since the
// retrieval started. A total of zero means the size is unknown; the snapshot
// then reports Known == false and renderers show an indeterminate indicator.
//
// # Usage
//
//	snap := progress.Calculate(downloaded, total, time.Since(start))
//	fmt.Printf("%.1f%% at %s\n", snap.Percent, progress.FormatSpeed(snap.Speed))
//
// Reporter periodically renders every active retrieval of a Source:
//
//	reporter := progress.NewReporter(source, progress.Options{Output: os.Stderr})
//	reporter.Start()
//	defer reporter.Stop()
//
// # Output Format
//
//	[packfetch] Ocean Temple        downloading  45.2% | 4.52 MiB / 10 MiB | 1.2 MiB/s | ETA 5s
//	[packfetch] Sky Islands         pending      Server fetching content...
//	[packfetch] ! Download completed: Frozen Keep
package progress
