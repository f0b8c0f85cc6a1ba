/* Copyright 2022 Treble Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// treble is a bot that fills in bells during online ringing
// practices.
//
// Usage:
//
//	treble [flags] ROOM_ID
//
// ROOM_ID is the numerical ID of the room to join.  Exactly one of
// -m (a method title), -p (a place notation) or -c (a composition ID
// or URL) chooses what to ring.  With -broker the bot rings over MQTT
// instead, and ROOM_ID is not used.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/treble-bot/treble/bot"
	"github.com/treble-bot/treble/complib"
	"github.com/treble-bot/treble/methods"
	"github.com/treble-bot/treble/parse"
	"github.com/treble-bot/treble/rhythm"
	"github.com/treble-bot/treble/rowgen"
	"github.com/treble-bot/treble/tower"
	"github.com/treble-bot/treble/towermq"
)

func main() {

	var (
		configFile = flag.String("f", "", "YAML config file (flags given explicitly override it)")

		serverURL = flag.String("url", "https://ringingroom.com", "URL of the server to join")
		userName  = flag.String("name", "", "ring bells assigned to this user (default: unassigned bells)")

		compArg       = flag.String("c", "", "ID or URL of the composition to ring")
		methodTitle   = flag.String("m", "", "title of the method to ring")
		placeNotation = flag.String("p", "", "place notation to ring, as 'stage:notation'")

		bobArg     = flag.String("b", "14", "place notation(s) made when Bob is called, e.g. '14' or '3:5/9:5'")
		singleArg  = flag.String("n", "1234", "place notation(s) made when Single is called")
		startIndex = flag.Int("start-index", 0, "which row of the lead to start at (may be negative)")
		startRow   = flag.String("start-row", "", "initial row, e.g. '13572468'")

		upDownIn      = flag.Bool("u", false, "go into changes after two rows of rounds")
		stopAtRounds  = flag.Bool("s", false, "stand the bells the first time rounds comes up")
		handbellStyle = flag.Bool("H", false, "handbell style: shorthand for -u -s")
		noCalls       = flag.Bool("no-calls", false, "do not announce calls from compositions")
		conduct       = flag.Bool("conduct", false, "call Go and That's All without being told to")

		keepGoing         = flag.Bool("k", false, "push on with the rhythm instead of waiting for users")
		inertia           = flag.Float64("I", 0.5, "how much to resist speed changes, 0 to 1")
		pealSpeedArg      = flag.String("S", "2h58", "target peal speed, e.g. '2h58' or '178'")
		handstrokeGap     = flag.Float64("G", 1.0, "handstroke gap as a factor of the inter-bell gap")
		maxBellsInDataset = flag.Int("X", 15, "how many strikes the rhythm remembers")

		methodCache = flag.String("cache", "methods.db", "method cache filename ('' to disable)")

		broker      = flag.String("broker", "", "MQTT broker (tcp://host:port) to ring over instead of a room")
		towerName   = flag.String("tower-name", "tower", "MQTT tower name")
		bells       = flag.Int("bells", 6, "number of bells on the MQTT tower")
		sensorBells = flag.String("sensor-bells", "", "comma-separated bells rung by hardware sensors, e.g. '1,2'")
		sensorUser  = flag.String("sensor-user", "sensor", "user the sensor bells count as assigned to")

		serverMode = flag.Bool("server-mode", false, "run as a server-spawned instance taking row generators over the wire")
		port       = flag.Int("port", 0, "server-mode: port of the socket server on localhost")
		lookToTime = flag.Float64("look-to-time", 0, "server-mode: Unix time at which 'Look to' was already called")
		instanceID = flag.Int("id", 0, "server-mode: instance ID for roll calls")

		verbose = flag.Bool("v", false, "log lots of wonderful things")
		quiet   = flag.Bool("q", false, "log nothing at all")
	)

	flag.Parse()

	fail := func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
		os.Exit(1)
	}

	if *configFile != "" {
		cfg, err := readConfig(*configFile)
		if err != nil {
			fail("Bad value for '-f': %v", err)
		}
		given := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { given[f.Name] = true })

		mergeString(given, "url", serverURL, cfg.URL)
		mergeString(given, "name", userName, cfg.Name)
		mergeString(given, "c", compArg, cfg.Comp)
		mergeString(given, "m", methodTitle, cfg.Method)
		mergeString(given, "p", placeNotation, cfg.PlaceNotation)
		mergeString(given, "b", bobArg, cfg.Bob)
		mergeString(given, "n", singleArg, cfg.Single)
		mergeInt(given, "start-index", startIndex, cfg.StartIndex)
		mergeString(given, "start-row", startRow, cfg.StartRow)
		mergeBool(given, "u", upDownIn, cfg.UpDownIn)
		mergeBool(given, "s", stopAtRounds, cfg.StopAtRounds)
		mergeBool(given, "H", handbellStyle, cfg.HandbellStyle)
		mergeBool(given, "no-calls", noCalls, cfg.NoCalls)
		mergeBool(given, "conduct", conduct, cfg.Conduct)
		mergeBool(given, "k", keepGoing, cfg.KeepGoing)
		mergeFloat(given, "I", inertia, cfg.Inertia)
		mergeString(given, "S", pealSpeedArg, cfg.PealSpeed)
		mergeFloat(given, "G", handstrokeGap, cfg.HandstrokeGap)
		mergeInt(given, "X", maxBellsInDataset, cfg.MaxBellsInDataset)
		mergeString(given, "cache", methodCache, cfg.MethodCache)
		mergeString(given, "broker", broker, cfg.Broker)
		mergeString(given, "tower-name", towerName, cfg.TowerName)
		mergeInt(given, "bells", bells, cfg.Bells)
		mergeString(given, "sensor-bells", sensorBells, cfg.SensorBells)
		mergeString(given, "sensor-user", sensorUser, cfg.SensorUser)
	}

	if *quiet {
		log.SetOutput(io.Discard)
	}

	// VALIDATE THE ARGUMENTS

	sources := 0
	for _, s := range []string{*compArg, *methodTitle, *placeNotation} {
		if s != "" {
			sources++
		}
	}
	switch {
	case *serverMode && sources > 0:
		fail("Server mode takes its row generators over the wire, not from -c/-m/-p")
	case !*serverMode && sources == 0:
		fail("One of -m (method), -p (place notation) or -c (composition) is required")
	case sources > 1:
		fail("Only one of -m, -p and -c may be given")
	case *compArg != "" && *startRow != "":
		fail("You may not specify a custom start row with a composition")
	}

	pealSpeed, err := parse.PealSpeed(*pealSpeedArg)
	if err != nil {
		fail("Bad value for '-S': %v", err)
	}
	bob, err := parse.Call(*bobArg)
	if err != nil {
		fail("Bad value for '-b': %v", err)
	}
	single, err := parse.Call(*singleArg)
	if err != nil {
		fail("Bad value for '-n': %v", err)
	}
	initialRow, err := parse.StartRow(*startRow)
	if err != nil {
		fail("Bad value for '-start-row': %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CONNECT THE TOWER

	var (
		t          bot.Tower
		makeCall   func(string)
		closeTower func()
	)
	if *broker != "" {
		mq, err := towermq.Connect(towermq.Options{
			Broker:      *broker,
			TowerName:   *towerName,
			ClientID:    "treble-" + *towerName,
			Bells:       *bells,
			SensorBells: parseBellList(*sensorBells, fail),
			SensorUser:  *sensorUser,
		})
		if err != nil {
			fail("Cannot connect to '%s': %v", *broker, err)
		}
		mq.Verbose = *verbose
		t, makeCall, closeTower = mq, mq.MakeCall, mq.Close
	} else {
		if flag.NArg() != 1 {
			fail("Usage: %s [flags] ROOM_ID", os.Args[0])
		}
		roomID, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			fail("Bad value for 'ROOM_ID': '%s' is not a number", flag.Arg(0))
		}

		towerURL := ""
		if *serverMode {
			// Server-spawned instances talk to the socket server
			// directly; there is no load balancer in the way.
			towerURL = "http://127.0.0.1:" + strconv.Itoa(*port)
		} else {
			towerURL, err = tower.LoadBalancingURL(ctx, http.DefaultClient, roomID, *serverURL)
			if err != nil {
				var notFound *tower.TowerNotFoundError
				if errors.As(err, &notFound) {
					fail("Bad value for 'ROOM_ID': %v", err)
				}
				fail("Bad value for '-url': %v", err)
			}
		}

		rr, err := tower.Connect(ctx, roomID, towerURL)
		if err != nil {
			fail("Cannot connect to '%s': %v", towerURL, err)
		}
		rr.Verbose = *verbose
		t = rr
		makeCall = rr.MakeCall
		closeTower = func() { rr.Close() }

		if err := rr.WaitLoaded(ctx); err != nil {
			fail("Tower %d never sent its state: %v", roomID, err)
		}
	}
	defer closeTower()

	// BUILD THE ROW GENERATOR

	comps := &complib.Client{Verbose: *verbose}
	var gen rowgen.Generator
	switch {
	case *serverMode:
		gen = rowgen.NewPlaceHolder()
	case *compArg != "":
		gen, err = comps.LoadRef(ctx, *compArg)
		if err != nil {
			fail("Bad value for '-c': %v", err)
		}
	case *methodTitle != "":
		src := &methods.Source{Verbose: *verbose}
		if *methodCache != "" {
			cache, err := methods.OpenCache(*methodCache)
			if err != nil {
				log.Printf("cannot open method cache %s: %v", *methodCache, err)
			} else {
				src.Cache = cache
				defer cache.Close()
			}
		}
		gen, err = src.Generator(ctx, *methodTitle, bob, single, *startIndex, initialRow)
		if err != nil {
			fail("Bad value for '-m': %v", err)
		}
	default:
		stage, pn, err := parse.PlaceNotation(*placeNotation)
		if err != nil {
			fail("Bad value for '-p': %v", err)
		}
		gen, err = rowgen.NewPlaceNotation(stage, pn, bob, single, *startIndex, initialRow)
		if err != nil {
			fail("Bad value for '-p': %v", err)
		}
	}
	if *conduct {
		gen = rowgen.NewCaller(gen, makeCall, time.Now().UnixNano())
	}

	// BUILD THE RHYTHM

	minBells := rhythm.DefaultMinDatasetSize
	if minBells > *maxBellsInDataset {
		minBells = *maxBellsInDataset
	}
	reg := rhythm.NewRegression(rhythm.Options{
		Inertia:        *inertia,
		PealSpeed:      float64(pealSpeed),
		HandstrokeGap:  *handstrokeGap,
		MinDatasetSize: minBells,
		MaxDatasetSize: *maxBellsInDataset,
	})
	reg.Verbose = *verbose
	var rhy rhythm.Rhythm = reg
	if !*keepGoing {
		wait := rhythm.NewWaitForUser(reg, nil)
		wait.Verbose = *verbose
		rhy = wait
	}

	// RING

	b := bot.New(t, gen, rhy, bot.Options{
		UpDownIn:        *upDownIn || *handbellStyle,
		StopAtRounds:    *stopAtRounds || *handbellStyle,
		CallComps:       !*noCalls,
		UserName:        *userName,
		ServerMode:      *serverMode,
		InstanceID:      *instanceID,
		LoadComposition: comps.Loader(ctx),
	})
	b.Verbose = *verbose

	if *serverMode && *lookToTime > 0 {
		b.LookToHasBeenCalled(*lookToTime)
	}

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("bot stopped: %v", err)
		os.Exit(1)
	}
	fmt.Println("Bye!")
}

// parseBellList turns "1,2" into zero or more 1-based bell numbers.
func parseBellList(s string, fail func(string, ...interface{})) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			fail("Bad value for '-sensor-bells': '%s' is not a bell number", part)
		}
		out = append(out, n)
	}
	return out
}
