package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// diagnoseStored is the --diagnose-token value meaning "the token this
// process would use".
const diagnoseStored = "stored"

type options struct {
	addUsers      string
	folderID      string
	diagnose      bool
	diagnoseToken string
	logout        bool
	debug         bool
	debugReport   string
	help          bool
}

var errUsage = errors.New("usage")

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options

	fs := pflag.NewFlagSet("cdp-runbooker", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.addUsers, "add-users", "", "CSV or one-per-line file of addresses to add to the folder")
	fs.StringVar(&o.folderID, "folder-id", "", "target folder (default: $CDP_FOLDER_ID)")
	fs.StringVar(&o.diagnoseToken, "diagnose-token", "", "check a token, or the stored one when no value is given")
	fs.Lookup("diagnose-token").NoOptDefVal = diagnoseStored
	fs.BoolVar(&o.logout, "logout", false, "remove the stored token")
	fs.BoolVar(&o.debug, "debug", false, "verbose logging (same as CDP_DEBUG=1)")
	fs.StringVar(&o.debugReport, "debug-report", "", "write a report of the last run to this .md or .html file")
	fs.BoolVarP(&o.help, "help", "h", false, "show help")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			o.help = true
			return o, nil
		}
		return o, err
	}

	o.diagnose = fs.Changed("diagnose-token")
	rest := fs.Args()
	// "--diagnose-token TOKEN" leaves TOKEN as the only positional argument.
	if o.diagnose && o.diagnoseToken == diagnoseStored && len(rest) == 1 {
		o.diagnoseToken, rest = rest[0], nil
	}
	if len(rest) > 0 {
		return o, fmt.Errorf("%w: unexpected argument: %s", errUsage, rest[0])
	}
	if o.diagnoseToken == diagnoseStored {
		o.diagnoseToken = ""
	}

	commands := 0
	for _, set := range []bool{o.addUsers != "", o.diagnose, o.logout} {
		if set {
			commands++
		}
	}
	if commands > 1 {
		return o, fmt.Errorf("%w: --add-users, --diagnose-token and --logout are mutually exclusive", errUsage)
	}
	return o, nil
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `cdp-runbooker adds people to a Quip folder from a list of addresses.

Addresses with no exact match are retried against the configured fallback
domains. The Quip token is read from QUIP_API_TOKEN or the encrypted store,
and prompted for when neither is available.

Usage:
  cdp-runbooker [flags]

Examples:
  # Add everyone in team.csv to a folder
  cdp-runbooker --add-users team.csv --folder-id AbCdEf123

  # Check the stored token
  cdp-runbooker --diagnose-token

  # Write a report of the last run
  cdp-runbooker --debug-report report.html

Flags:
  --add-users <file>         addresses to add (CSV or one per line)
  --folder-id <id>           target folder (default: $CDP_FOLDER_ID)
  --diagnose-token [token]   check a token, or the stored one
  --logout                   remove the stored token
  --debug                    verbose logging (same as CDP_DEBUG=1)
  --debug-report <path>      write a .md or .html report of the last run
  -h, --help                 show help
`)
}
