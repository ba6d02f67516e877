package box

import "fmt"

var TypeExtent = TypeOf("ispe")

// Extent is the image spatial extents property ('ispe'): the authoritative
// pixel width and height of an image item.
type Extent struct {
	Width  uint32
	Height uint32
}

func (e *Extent) Type() Type { return TypeExtent }

func (e *Extent) WriteBox(w *Writer) error {
	start := w.StartFullBox(TypeExtent, 0, 0)
	w.Uint32(e.Width)
	w.Uint32(e.Height)
	return w.EndBox(start)
}

func (e *Extent) String() string {
	return fmt.Sprintf("Box: ispe\nimage width: %d\nimage height: %d\n", e.Width, e.Height)
}

// ParseExtent parses the body of an 'ispe' box.
func ParseExtent(body *Reader) (*Extent, error) {
	body.FullBoxHeader()
	e := &Extent{
		Width:  body.Uint32(),
		Height: body.Uint32(),
	}
	if err := body.Err(); err != nil {
		return nil, fmt.Errorf("ispe: %w", err)
	}
	return e, nil
}
