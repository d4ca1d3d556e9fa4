package acs

import "github.com/markus-lassfolk/acsd/pkg/wifi"

// Intersection is the result of filtering candidates by a PCL
type Intersection struct {
	// Candidates in PCL order
	Candidates []uint32
	// PCL restricted to Candidates
	PCL []PCLEntry
	// Report lists every input candidate in request order; entries absent
	// from the PCL carry weight 0.
	Report []PCLEntry
}

// IntersectPCL orders the candidates by the PCL and keeps only the shared
// frequencies. An empty PCL applies no preference: candidates pass through
// unchanged.
func IntersectPCL(candidates []uint32, pcl []PCLEntry) Intersection {
	weights := make(map[uint32]uint8, len(pcl))
	for _, e := range pcl {
		if _, dup := weights[e.Freq]; !dup {
			weights[e.Freq] = e.Weight
		}
	}

	out := Intersection{Report: make([]PCLEntry, 0, len(candidates))}
	for _, f := range candidates {
		out.Report = append(out.Report, PCLEntry{Freq: f, Weight: weights[f]})
	}

	if len(pcl) == 0 {
		out.Candidates = cloneFreqs(candidates)
		return out
	}

	inCandidates := make(map[uint32]bool, len(candidates))
	for _, f := range candidates {
		inCandidates[f] = true
	}

	added := make(map[uint32]bool, len(pcl))
	out.Candidates = make([]uint32, 0, len(pcl))
	out.PCL = make([]PCLEntry, 0, len(pcl))
	for _, e := range pcl {
		if !inCandidates[e.Freq] || added[e.Freq] {
			continue
		}
		added[e.Freq] = true
		out.Candidates = append(out.Candidates, e.Freq)
		out.PCL = append(out.PCL, e)
	}
	return out
}

// FallbackChannel picks a best-effort channel from the master list: the
// first one that is not DFS, not a non-PSC 6 GHz channel and declared safe by
// the policy; failing that, the first master entry.
func FallbackChannel(master []uint32, reg Regulatory, policy Policy) (uint32, bool) {
	if len(master) == 0 {
		return 0, false
	}
	for _, f := range master {
		if isDFS(reg, f) {
			continue
		}
		if wifi.Is6GHz(f) && !isPSC(reg, f) {
			continue
		}
		if policy != nil && !policy.IsSafeChannel(f) {
			continue
		}
		return f, true
	}
	return master[0], true
}

func isDFS(reg Regulatory, f uint32) bool {
	if reg == nil {
		return wifi.IsDefaultDFS(f)
	}
	return reg.IsDFS(f)
}

func isPSC(reg Regulatory, f uint32) bool {
	if reg == nil {
		return wifi.Is6GHzPSC(f)
	}
	return reg.Is6GHzPSC(f)
}
