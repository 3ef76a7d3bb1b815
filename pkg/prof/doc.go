// Package prof exposes runtime profiles of a running simulation.
//
// [Handle] mounts the pprof HTTP handlers on a mux, so the profiles are
// served next to the metrics endpoint:
//
//	mux := http.NewServeMux()
//	prof.Handle(mux)
//
// CPU profiles stream to a file between [StartCPU] and [StopCPU]:
//
//	if err := prof.StartCPU("cpu.prof"); err != nil {
//	    return err
//	}
//	defer prof.StopCPU()
//
// Other profiles are point-in-time snapshots written with [Write]. The
// block and mutex profiles stay empty until [SetContentionRate] enables
// them; ring and pipeline locks show up there when handlers contend.
package prof
