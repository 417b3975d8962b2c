package main

// Flag structs to decouple cobra from logic for testing.

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

type StatusFlags struct {
	Kind   string
	JSON   bool
	Output bool
}

type LaunchFlags struct {
	Kind        string
	SecretStdin bool
}

type XvbModeFlags struct {
	Mode   string
	Amount float64
	Level  string
}
