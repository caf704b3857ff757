// thermoctl reads and changes the thermostat from the command line.
//
//	thermoctl status
//	thermoctl set -target 68.5 -mode heat
//	thermoctl history -window 6h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jroedel/thermostat/foundation/thermapi"
)

var address string

func usage() {
	fmt.Fprintf(os.Stderr, "usage: thermoctl [-address host:port] status|set|history [options]\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.StringVar(&address, "address", "http://localhost:8480", "base url of the thermostat daemon")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}

	cln, err := thermapi.New(address)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "status":
		err = runStatus(cln)
	case "set":
		err = runSet(cln, flag.Args()[1:])
	case "history":
		err = runHistory(cln, flag.Args()[1:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStatus(cln *thermapi.Client) error {
	status, err := cln.GetStatus()
	if err != nil {
		return err
	}
	printStatus(status)
	return nil
}

func runSet(cln *thermapi.Client, args []string) error {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	target := fs.Float64("target", 0, "target temperature in the unit the thermostat displays")
	mode := fs.String("mode", "", "heat, cool or off")
	differential := fs.String("differential", "", "slow, normal or fast")
	rest := fs.String("rest", "", "short, medium, long or off")
	fan := fs.String("fan", "", "auto or on")
	fs.Parse(args)

	var patch thermapi.SettingsPatch
	targetSet := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "target":
			targetSet = true
		case "mode":
			patch.Mode = mode
		case "differential":
			patch.Differential = differential
		case "rest":
			patch.Rest = rest
		case "fan":
			patch.Fan = fan
		}
	})

	if targetSet {
		//the daemon speaks Celsius; convert if it displays Fahrenheit
		status, err := cln.GetStatus()
		if err != nil {
			return err
		}
		targetC := float32(*target)
		if status.Settings.UseFahrenheit {
			targetC = (targetC - 32) * 5 / 9
		}
		patch.TargetTempC = &targetC
	}

	status, err := cln.ApplySettings(patch)
	if err != nil {
		return err
	}
	printStatus(status)
	return nil
}

func runHistory(cln *thermapi.Client, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	window := fs.Duration("window", time.Hour, "how far back to look, e.g. 30m, 6h")
	fs.Parse(args)

	history, err := cln.GetHistory(*window)
	if err != nil {
		return err
	}
	for _, sample := range history.Samples {
		fmt.Printf("%s  %6.1fC  target %5.1fC  %s\n",
			sample.Timestamp.Format(time.RFC3339),
			sample.TemperatureC,
			sample.TargetTempC,
			sample.RunState)
	}
	if len(history.Samples) > 0 {
		fmt.Printf("average over %s: %.1fC\n", *window, history.AverageTempC)
	}
	return nil
}

func printStatus(status thermapi.Status) {
	temp := "--"
	target := fmt.Sprintf("%.1f°C", status.Settings.TargetTempC)
	if status.Settings.UseFahrenheit {
		target = fmt.Sprintf("%.1f°F", status.Settings.TargetTempC*9/5+32)
	}
	if status.SensorOK {
		if status.Settings.UseFahrenheit {
			temp = fmt.Sprintf("%.1f°F", status.CurrentTempF)
		} else {
			temp = fmt.Sprintf("%.1f°C", status.CurrentTempC)
		}
	}
	fmt.Printf("%s (%s)\n", status.Message, status.State)
	fmt.Printf("current %s, target %s\n", temp, target)
	fmt.Printf("mode %s, differential %s, rest %s, fan %s\n",
		status.Settings.Mode, status.Settings.Differential, status.Settings.Rest, status.Settings.Fan)
	relays := func(on bool) string {
		if on {
			return "on"
		}
		return "off"
	}
	fmt.Printf("relays: heat %s, cool %s, fan %s\n", relays(status.HeatOn), relays(status.CoolOn), relays(status.FanOn))
}
