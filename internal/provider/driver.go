// Package provider automates the identity-provider side of an OAuth
// login: signing control accounts in, walking authorization dialogs,
// and capturing authorization responses before relying parties can
// consume them.
package provider

import (
	"context"
	"time"
)

// Driver is the browser surface the automation needs. *browser.Chrome
// satisfies it through a thin adapter in the command factory.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	CurrentURL(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
	SwitchToSecondaryWindow(ctx context.Context) error
	SwitchBack(ctx context.Context, force bool) error
	LoadCookies(ctx context.Context, path string) error
	SaveCookies(ctx context.Context, path string) error
	TrapResponses(ctx context.Context, match func(url string) bool) (Trap, error)
	StartTraffic() error
	SaveTraffic(path string) error
	Close() error
}

// Trap observes navigations aborted by the driver.
type Trap interface {
	First() string
	All() []string
}
