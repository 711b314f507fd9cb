package lfw

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jnb666/dfi/dfi"
	"github.com/pkg/errors"
)

const testData = `# LFW attributes file
#	person	imagenum	Male	Smiling	No Beard
Aaron Eckhart	1	1.57	-0.5	2.1
Aaron Guiel	1	0.17	1.2	1.3
Aaron Patterson	1	0.99	0.8	-0.7
Aaron Peirsol	2	-1.0	0.3	1.1
Abba Eban	1	1.2	-1.3	-0.2
Abbas Kiarostami	1	-0.3	-0.6	0.9
Abdel Aziz Al-Hakim	3	0.0	0.4	-1.4
`

func loadTest(t *testing.T) *Dataset {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, AttributesFile), []byte(testData), 0644); err != nil {
		t.Fatal(err)
	}
	d, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestParse(t *testing.T) {
	d := loadTest(t)
	if d.Len() != 7 {
		t.Fatal("expecting 7 rows, got", d.Len())
	}
	if !reflect.DeepEqual(d.Attributes(), []string{"Male", "Smiling", "No Beard"}) {
		t.Error("attributes: got", d.Attributes())
	}
	expect := []float64{1, -1, 1}
	if row := d.Values.RawRowView(0); !reflect.DeepEqual(row, expect) {
		t.Error("row 0: got", row, "expect", expect)
	}
	if v := d.Values.At(6, 0); v != 0 {
		t.Error("zero value should stay zero, got", v)
	}
	path := d.Path(6)
	t.Log(path)
	if !strings.HasSuffix(path, filepath.Join(ImageDir, "Abdel_Aziz_Al-Hakim", "Abdel_Aziz_Al-Hakim_0003.jpg")) {
		t.Error("unexpected path", path)
	}
	if row, err := d.Find("Aaron Peirsol", 2); err != nil || row != 3 {
		t.Error("find: got", row, err)
	}
	if _, err := d.Find("Aaron Peirsol", 1); err == nil {
		t.Error("expecting error for missing image")
	}
	if _, err := d.ImageFile(7); err == nil {
		t.Error("expecting error for person out of range")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"Aaron Eckhart\t1\t1.57\n",
		"person\timagenum\tMale\nAaron Eckhart\t1\n",
		"person\timagenum\tMale\nAaron Eckhart\tx\t1\n",
		"person\timagenum\tMale\nAaron Eckhart\t1\tabc\n",
		"person\timagenum\tMale\n",
	}
	for i, data := range tests {
		if _, err := Parse(strings.NewReader(data), "."); err == nil {
			t.Errorf("test %d: expecting error", i)
		} else {
			t.Logf("test %d: %v", i, err)
		}
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expecting error for missing file")
	}
}

func TestNearest(t *testing.T) {
	d := loadTest(t)
	// distances from row 0 [1 -1 1]: row 1 [1 1 1] = 2, row 3 [-1 1 1] = 2.83, row 4 [1 -1 -1] = 2, row 5 [-1 -1 1] = 2
	rows, err := d.Nearest(0, []int{3, 1, 4, 5}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rows, []int{1, 4, 5}) {
		t.Error("got", rows, "expect", []int{1, 4, 5})
	}
	if dist := d.Distance(0, 3); dist < 2.828 || dist > 2.829 {
		t.Error("distance: got", dist)
	}
	_, err = d.Nearest(0, []int{1, 2}, 3)
	if e, ok := errors.Cause(err).(dfi.InsufficientDataError); !ok || e.Have != 2 || e.Need != 3 {
		t.Error("expecting insufficient data error, got", err)
	}
}

func TestExamples(t *testing.T) {
	d := loadTest(t)
	// Smiling +1: rows 1 2 3 6, -1: rows 4 5 (row 0 is the anchor)
	pos, neg, err := d.Examples("Smiling", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Log(pos, neg)
	if len(pos) != 2 || len(neg) != 2 {
		t.Fatalf("got %d positive and %d negative", len(pos), len(neg))
	}
	if neg[0] != d.Path(4) || neg[1] != d.Path(5) {
		t.Error("negative set: got", neg)
	}
	for _, p := range pos {
		if p == d.Path(0) {
			t.Error("anchor should not be included")
		}
	}
	_, _, err = d.Examples("Smiling", 0, 3)
	if _, ok := errors.Cause(err).(dfi.InsufficientDataError); !ok {
		t.Error("expecting insufficient data error, got", err)
	} else {
		t.Log(err)
	}
	_, _, err = d.Examples("Bald", 0, 1)
	if _, ok := errors.Cause(err).(dfi.ConfigurationError); !ok {
		t.Error("expecting configuration error, got", err)
	}
}
