package messenger

// Notifier shows short, transient messages to the user.
type Notifier interface {
	Notify(text string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(text string)

func (f NotifierFunc) Notify(text string) { f(text) }

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}
