package markup

// MaxLineChars is the visible character budget of each description line.
const MaxLineChars = 20

// Field identifies one editable value on the label.
type Field int

const (
	Line1 Field = iota
	Line2
	Line3
	Price
	TagID
)

func (f Field) String() string {
	switch f {
	case Line1:
		return "line1"
	case Line2:
		return "line2"
	case Line3:
		return "line3"
	case Price:
		return "price"
	case TagID:
		return "tagid"
	default:
		return "unknown"
	}
}

// Cap returns the visible character budget of f, or -1 when unbounded.
func (f Field) Cap() int {
	switch f {
	case Line1, Line2, Line3:
		return MaxLineChars
	default:
		return -1
	}
}

// Fields holds the raw values typed into the label editor.
type Fields struct {
	Line1 string
	Line2 string
	Line3 string
	Price string
	TagID string
}

// Get returns the raw value of f.
func (fs Fields) Get(f Field) string {
	switch f {
	case Line1:
		return fs.Line1
	case Line2:
		return fs.Line2
	case Line3:
		return fs.Line3
	case Price:
		return fs.Price
	case TagID:
		return fs.TagID
	}
	return ""
}

// Lines returns the three description lines in display order.
func (fs Fields) Lines() [3]string {
	return [3]string{fs.Line1, fs.Line2, fs.Line3}
}

// Limited returns a copy with every field cut to its visible budget.
func (fs Fields) Limited() Fields {
	return Fields{
		Line1: Limit(fs.Line1, Line1.Cap()),
		Line2: Limit(fs.Line2, Line2.Cap()),
		Line3: Limit(fs.Line3, Line3.Cap()),
		Price: Limit(fs.Price, Price.Cap()),
		TagID: Limit(fs.TagID, TagID.Cap()),
	}
}
