package serialbridge

type DataBits int

func (d DataBits) Int() int {
	return int(d)
}

// tarmSize converts to the tarm/serial character size.
func (d DataBits) tarmSize() byte {
	return byte(d)
}

const (
	DataBits5 DataBits = 5
	DataBits6 DataBits = 6
	DataBits7 DataBits = 7
	DataBits8 DataBits = 8
)
