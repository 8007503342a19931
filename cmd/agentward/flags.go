package main

// Flag structs to decouple cobra from logic for testing.

type MonitorFlags struct {
	ConfigPath string
	Once       bool // run a single cycle and exit
}

type ServeFlags struct {
	ConfigPath string
}

type StatusFlags struct {
	ConfigPath string
	Agent      string // empty lists all agents
	Local      bool   // read cache files instead of the remote table
}

type ForceFlags struct {
	ConfigPath string
	Agent      string
	Reason     string
}

type ReportFlags struct {
	ConfigPath string
	Agent      string
	Status     string
	Health     int
	Activity   string
	Error      string
}
