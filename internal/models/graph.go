package models

import "sort"

// Adjacency maps an upstream device id to the ids of devices that depend on it.
type Adjacency map[string][]string

// AdjacencyFromDevices derives edges from depends_on and downstream references.
func AdjacencyFromDevices(devices []Device) Adjacency {
	adj := make(Adjacency)
	for _, dev := range devices {
		for _, up := range dev.DependsOn {
			adj.Add(up, dev.ID)
		}
		for _, down := range dev.Downstream {
			adj.Add(dev.ID, down)
		}
	}
	return adj
}

// Add records upstream -> downstream once.
func (a Adjacency) Add(upstream, downstream string) {
	if upstream == "" || downstream == "" {
		return
	}
	for _, existing := range a[upstream] {
		if existing == downstream {
			return
		}
	}
	a[upstream] = append(a[upstream], downstream)
	sort.Strings(a[upstream])
}

// Merge copies every edge of other into a.
func (a Adjacency) Merge(other Adjacency) {
	for up, downs := range other {
		for _, down := range downs {
			a.Add(up, down)
		}
	}
}
