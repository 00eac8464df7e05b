package service

// Notifier wakes subscribers watching a tablet's state. Services publish
// after any change a kiosk or dashboard should repaint for.
type Notifier interface {
	NotifyTablet(tabletID string)
	NotifyRoster()
}

// NopNotifier satisfies Notifier for tests and single-shot tooling.
type NopNotifier struct{}

func (NopNotifier) NotifyTablet(string) {}
func (NopNotifier) NotifyRoster()       {}
