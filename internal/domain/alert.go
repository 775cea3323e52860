package domain

// Alert is an asynchronous engine notification. The set of variants is
// closed: StateUpdateAlert, FinishedAlert and ErrorAlert.
type Alert interface {
	alert()
}

type StateUpdateAlert struct {
	Statuses []TransferStatus
}

type FinishedAlert struct {
	TransferID TransferID
}

type ErrorAlert struct {
	TransferID TransferID
	Message    string
}

func (StateUpdateAlert) alert() {}
func (FinishedAlert) alert()    {}
func (ErrorAlert) alert()       {}
