package main

// GlobalFlags holds flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	JSON       bool
}

type KillFlags struct {
	Force bool
	Yes   bool
}

type ClaimFlags struct {
	Path     string
	AutoKill bool
}
