package cmd

// Version is set at build time with
// -ldflags "-X github.com/dotcommander/sage-enforce/cmd.Version=v1.2.3".
var Version = "dev"

func init() {
	rootCmd.Version = Version
}
