package v4l2

import (
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"
	"github.com/rs/zerolog/log"
)

// removalWatcher listens for udev "remove" events on the video4linux
// subsystem and calls onRemove when the watched device disappears.
type removalWatcher struct {
	device   string
	onRemove func()

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newRemovalWatcher(device string, onRemove func()) *removalWatcher {
	return &removalWatcher{device: device, onRemove: onRemove}
}

// Start connects to the udev netlink socket. Failure is not fatal: the
// stream still ends through the pipeline bus when the device vanishes.
func (w *removalWatcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		log.Warn().Err(err).Str("device", w.device).Msg("Failed to connect to netlink socket; camera removal detection disabled")
		return
	}
	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	quit := w.quit
	go w.loop(conn, quit)
	log.Debug().Str("device", w.device).Msg("Camera removal watcher started")
}

// Stop closes the netlink connection. Safe to call more than once.
func (w *removalWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.quit)
	w.quit = nil
	_ = w.conn.Close()
	w.conn = nil
	w.running = false
}

func (w *removalWatcher) loop(conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, removalMatcher())

	for {
		select {
		case <-quit:
			close(monitorQuit)
			return
		case ev := <-queue:
			if !w.matches(ev) {
				continue
			}
			log.Warn().Str("device", w.device).Str("action", string(ev.Action)).Msg("Camera removed")
			close(monitorQuit)
			w.onRemove()
			return
		case err := <-errs:
			log.Debug().Err(err).Msg("Netlink monitor error")
		}
	}
}

// matches reports whether ev refers to the watched device.
func (w *removalWatcher) matches(ev netlink.UEvent) bool {
	return deviceName(ev) == w.device
}

// removalMatcher matches SUBSYSTEM=video4linux, ACTION=remove.
func removalMatcher() netlink.Matcher {
	action := "remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

// deviceName gets the /dev path from a uevent.
func deviceName(ev netlink.UEvent) string {
	if name := ev.Env["DEVNAME"]; name != "" {
		if !strings.HasPrefix(name, "/") {
			name = "/dev/" + name
		}
		return name
	}
	devpath := ev.Env["DEVPATH"]
	if devpath == "" {
		devpath = ev.KObj
	}
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
