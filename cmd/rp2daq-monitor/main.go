// Command rp2daq-monitor serves a live dashboard of every report flowing
// off a device over a WebSocket, and reloads the command/report
// catalogue automatically whenever the firmware source it was built
// from changes on disk.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"sync"

	"github.com/maruel/interrupt"
	"github.com/maruel/serve-dir/loghttp"
	"golang.org/x/net/websocket"
	fsnotify "gopkg.in/fsnotify.v1"

	"github.com/rp2daq/rp2daq-go/descriptor"
	"github.com/rp2daq/rp2daq-go/rp2daq"
)

// Config is read from and written to ~/.config/rp2daq/monitor.json.
type Config struct {
	Descriptor string
	Serial     string
	Port       int
}

var config = Config{Port: 8070}

// ringSize is the capacity of the report ring; up to ringSize-1 of the
// most recent reports are replayed to a freshly connected WebSocket client.
const ringSize = 256

// monitor fans every report out to any number of connected dashboards
// through a condition-variable-broadcast ring buffer.
type monitor struct {
	cond      sync.Cond
	reports   [ringSize]*rp2daq.Report
	lastIndex int
	catalogue *descriptor.Catalogue
}

func newMonitor(cat *descriptor.Catalogue) *monitor {
	return &monitor{cond: *sync.NewCond(&sync.Mutex{}), lastIndex: -1, catalogue: cat}
}

func (m *monitor) add(rep rp2daq.Report) {
	m.cond.L.Lock()
	defer m.cond.L.Unlock()
	m.lastIndex = (m.lastIndex + 1) % len(m.reports)
	r := rep
	m.reports[m.lastIndex] = &r
	m.cond.Broadcast()
}

func (m *monitor) setCatalogue(cat *descriptor.Catalogue) {
	m.cond.L.Lock()
	m.catalogue = cat
	m.cond.L.Unlock()
}

type wireReport struct {
	Opcode int              `json:"opcode"`
	Name   string           `json:"name"`
	Values map[string]int64 `json:"values"`
	Data   []int            `json:"data,omitempty"`
	Err    string           `json:"err,omitempty"`
}

// stream pushes every new report to w as newline-delimited JSON, starting
// from whatever is already in the ring so a client never sees a gap.
func (m *monitor) stream(w *websocket.Conn) {
	log.Printf("monitor: client %s connected", w.Config().Origin)
	defer w.Close()
	m.cond.L.Lock()
	defer m.cond.L.Unlock()

	index := m.lastIndex
	if index >= 0 {
		// Start just past the newest slot, i.e. at the oldest one, so the
		// loop below replays the ring before waiting for new reports.
		index = (index + 1) % len(m.reports)
	}
	var err error
	for !interrupt.IsSet() && err == nil {
		for !interrupt.IsSet() && err == nil && index != m.lastIndex {
			index = (index + 1) % len(m.reports)
			rep := m.reports[index]
			if rep == nil {
				continue
			}
			name := ""
			if rpt, ok := m.catalogue.Report(rep.Header.Opcode); ok {
				name = rpt.Name
			}
			wr := wireReport{Opcode: rep.Header.Opcode, Name: name, Values: rep.Header.Values, Data: rep.Data}
			if rep.Err != nil {
				wr.Err = rep.Err.Error()
			}

			m.cond.L.Unlock()
			encErr := json.NewEncoder(w).Encode(&wr)
			m.cond.L.Lock()
			err = encErr
		}
		if err == nil {
			m.cond.Wait()
		}
	}
	log.Printf("monitor: client %s disconnected: %v", w.Config().Origin, err)
}

func configPath() (string, error) {
	usr, err := user.Current()
	if err != nil {
		return "", err
	}
	return filepath.Join(usr.HomeDir, ".config", "rp2daq", "monitor.json"), nil
}

func loadConfig() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(&config)
}

func saveConfig() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&config, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0600)
}

// watchDescriptor reloads the catalogue whenever the firmware source
// tree changes, so editing a command's fields doesn't require restarting
// the monitor to see the new shape reflected on the dashboard.
func watchDescriptor(root string, m *monitor) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("monitor: fsnotify disabled: %s", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(root)); err != nil {
		log.Printf("monitor: fsnotify disabled: %s", err)
		return
	}
	// descriptor.Load also reads the sibling include directory, which may
	// be absent.
	if err := watcher.Add(filepath.Join(filepath.Dir(root), "include")); err != nil {
		log.Printf("monitor: not watching include directory: %s", err)
	}
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cat, err := descriptor.Load(root)
			if err != nil {
				log.Printf("monitor: reload failed: %s", err)
				continue
			}
			log.Printf("monitor: reloaded catalogue, version %d", cat.Version)
			m.setCatalogue(cat)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("monitor: fsnotify error: %s", err)
		case <-interrupt.Channel:
			return
		}
	}
}

func mainImpl() error {
	descRoot := flag.String("descriptor", "", "path to the firmware's root C source file")
	serial := flag.String("serial", "", "required device serial number (optional)")
	port := flag.Int("port", 0, "http port to listen on (0 keeps the saved config value)")
	writeConfig := flag.Bool("writeConfig", false, "write the current flags to the config file and exit")
	flag.Parse()

	if err := loadConfig(); err != nil {
		return err
	}
	if *descRoot != "" {
		config.Descriptor = *descRoot
	}
	if *serial != "" {
		config.Serial = *serial
	}
	if *port != 0 {
		config.Port = *port
	}
	if *writeConfig {
		return saveConfig()
	}
	if config.Descriptor == "" {
		return fmt.Errorf("-descriptor is required (or set it once with -writeConfig)")
	}

	interrupt.HandleCtrlC()

	cat, err := descriptor.Load(config.Descriptor)
	if err != nil {
		return err
	}
	r, err := rp2daq.Open(config.Descriptor, config.Serial)
	if err != nil {
		return err
	}
	defer r.Close()

	m := newMonitor(cat)
	go watchDescriptor(config.Descriptor, m)
	r.OnDisconnect(func(err error) {
		log.Printf("monitor: device disconnected: %s", err)
		interrupt.Set()
		m.cond.Broadcast()
	})

	for opcode := range cat.Reports {
		rep, _ := cat.Report(opcode)
		name := rep.Name
		if _, err := r.Invoke(name, nil, m.add); err != nil {
			log.Printf("monitor: not subscribing to %s: %s", name, err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/stream", websocket.Handler(m.stream))
	mux.HandleFunc("/api/catalogue", func(w http.ResponseWriter, req *http.Request) {
		m.cond.L.Lock()
		defer m.cond.L.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.catalogue)
	})
	mux.Handle("/", http.FileServer(http.Dir("static")))

	fmt.Printf("rp2daq-monitor listening on :%d\n", config.Port)
	go http.ListenAndServe(fmt.Sprintf(":%d", config.Port), loghttp.Handler{Handler: mux})

	<-interrupt.Channel
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		log.Printf("rp2daq-monitor: %s", err)
		os.Exit(1)
	}
}
