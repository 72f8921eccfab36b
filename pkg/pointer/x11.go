package pointer

import (
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

// X11Source reads the pointer from the root window of an X display
type X11Source struct {
	conn *xgb.Conn
	root xproto.Window
}

// OpenX11 connects to display, or to $DISPLAY when display is empty
func OpenX11(display string) (*X11Source, error) {
	var (
		conn *xgb.Conn
		err  error
	)
	if display == "" {
		conn, err = xgb.NewConn()
	} else {
		conn, err = xgb.NewConnDisplay(display)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to X display: %w", err)
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	return &X11Source{conn: conn, root: screen.Root}, nil
}

// Position returns the pointer position in root window pixels
func (s *X11Source) Position() (int, int, error) {
	reply, err := xproto.QueryPointer(s.conn, s.root).Reply()
	if err != nil {
		return 0, 0, fmt.Errorf("query pointer: %w", err)
	}
	return int(reply.RootX), int(reply.RootY), nil
}

// ScreenSize returns the current root window size, which follows mode switches
func (s *X11Source) ScreenSize() (int, int, error) {
	geom, err := xproto.GetGeometry(s.conn, xproto.Drawable(s.root)).Reply()
	if err != nil {
		return 0, 0, fmt.Errorf("get root geometry: %w", err)
	}
	return int(geom.Width), int(geom.Height), nil
}

func (s *X11Source) Close() {
	s.conn.Close()
}
