package testsuites

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"path"
	"testing"

	"github.com/reststorage/reststorage"
	"gopkg.in/check.v1"
)

// Test hooks up gocheck into the "go test" runner.
func Test(t *testing.T) { check.TestingT(t) }

// RegisterSuite registers an in-process storage backend test suite with
// the go test runner.
func RegisterSuite(driverConstructor DriverConstructor, skipCheck SkipCheck) {
	check.Suite(&DriverSuite{
		Constructor: driverConstructor,
		SkipCheck:   skipCheck,
		ctx:         context.Background(),
	})
}

// SkipCheck is a function used to determine if a test suite should be skipped.
// If a SkipCheck returns a non-empty skip reason, the suite is skipped with
// the given reason.
type SkipCheck func() (reason string)

// NeverSkip is a default SkipCheck which never skips the suite.
var NeverSkip SkipCheck = func() string { return "" }

// DriverConstructor is a function which returns a new reststorage.Storage.
type DriverConstructor func() (reststorage.Storage, error)

// DriverTeardown is a function which cleans up a suite's reststorage.Storage.
type DriverTeardown func() error

// DriverSuite is a gocheck test suite designed to test the behaviour every
// reststorage.Storage backend shares.
// The intended way to create a DriverSuite is with RegisterSuite.
type DriverSuite struct {
	Constructor DriverConstructor
	Teardown    DriverTeardown
	SkipCheck
	reststorage.Storage
	ctx context.Context
}

// SetUpSuite sets up the gocheck test suite.
func (suite *DriverSuite) SetUpSuite(c *check.C) {
	if reason := suite.SkipCheck(); reason != "" {
		c.Skip(reason)
	}
	d, err := suite.Constructor()
	c.Assert(err, check.IsNil)
	suite.Storage = d
}

// TearDownSuite tears down the gocheck test suite.
func (suite *DriverSuite) TearDownSuite(c *check.C) {
	if suite.Teardown != nil {
		err := suite.Teardown()
		c.Assert(err, check.IsNil)
	}
}

// TestWriteRead1 tests a simple write-read workflow.
func (suite *DriverSuite) TestWriteRead1(c *check.C) {
	suite.writeReadCompare(c, randomPath(3), []byte("a"))
}

// TestWriteRead2 tests a simple write-read workflow with unicode data.
func (suite *DriverSuite) TestWriteRead2(c *check.C) {
	suite.writeReadCompare(c, randomPath(2), []byte("\xc3\x9f"))
}

// TestWriteRead3 tests a simple write-read workflow with a JSON document.
func (suite *DriverSuite) TestWriteRead3(c *check.C) {
	suite.writeReadCompare(c, randomPath(1), []byte(`{"name":"`+randomString(32)+`"}`))
}

// TestWriteRead4 tests a simple write-read workflow with 1MB of data.
func (suite *DriverSuite) TestWriteRead4(c *check.C) {
	suite.writeReadCompare(c, randomPath(2), randomContents(1024*1024))
}

// TestWriteReadEmpty tests writing and reading an empty document.
func (suite *DriverSuite) TestWriteReadEmpty(c *check.C) {
	suite.writeReadCompare(c, randomPath(2), []byte{})
}

// TestOverwrite tests that a second write replaces the first.
func (suite *DriverSuite) TestOverwrite(c *check.C) {
	filename := randomPath(2)
	suite.put(c, filename, []byte("first version, longer"))
	suite.writeReadCompare(c, filename, []byte("second"))
}

// TestReadNonexistent tests reading content from an empty path.
func (suite *DriverSuite) TestReadNonexistent(c *check.C) {
	res, err := suite.Storage.Get(suite.ctx, randomPath(2), reststorage.AllItems())
	c.Assert(err, check.IsNil)
	c.Assert(res, check.FitsTypeOf, &reststorage.Missing{})
	c.Assert(reststorage.Exists(res), check.Equals, false)
}

// TestAncestorsListChild tests that every ancestor of a stored document
// lists the next segment.
func (suite *DriverSuite) TestAncestorsListChild(c *check.C) {
	prefix := "/" + randomString(12)
	suite.put(c, prefix+"/a/b/c/doc", []byte("x"))

	c.Assert(suite.listNames(c, prefix), check.DeepEquals, []string{"a/"})
	c.Assert(suite.listNames(c, prefix+"/a"), check.DeepEquals, []string{"b/"})
	c.Assert(suite.listNames(c, prefix+"/a/b"), check.DeepEquals, []string{"c/"})
	c.Assert(suite.listNames(c, prefix+"/a/b/c"), check.DeepEquals, []string{"doc"})

	root := suite.listNames(c, "/")
	c.Assert(contains(root, path.Base(prefix)+"/"), check.Equals, true)
	c.Assert(contains(root, reststorage.StagingSegment+"/"), check.Equals, false)
}

// TestListingIsSorted tests that listings are sorted regardless of
// insertion order.
func (suite *DriverSuite) TestListingIsSorted(c *check.C) {
	prefix := "/" + randomString(12)
	names := []string{"delta", "alpha", "echo", "charlie", "bravo"}
	for _, name := range names {
		suite.put(c, prefix+"/"+name, []byte(name))
	}
	suite.put(c, prefix+"/avocado/leaf", []byte("x"))

	c.Assert(suite.listNames(c, prefix), check.DeepEquals,
		[]string{"alpha", "avocado/", "bravo", "charlie", "delta", "echo"})
}

// TestListingWindow tests offset/count windows and the full-set fallback.
func (suite *DriverSuite) TestListingWindow(c *check.C) {
	prefix := "/" + randomString(12)
	for _, name := range []string{"e", "c", "a", "d", "b"} {
		suite.put(c, prefix+"/"+name, []byte(name))
	}

	cases := []struct {
		offset, count int
		expected      []string
	}{
		{0, -1, []string{"a", "b", "c", "d", "e"}},
		{1, 2, []string{"b", "c"}},
		{0, 3, []string{"a", "b", "c"}},
		{3, 2, []string{"a", "b", "c", "d", "e"}},
		{4, 10, []string{"a", "b", "c", "d", "e"}},
		{5, 1, []string{"a", "b", "c", "d", "e"}},
		{2, -1, []string{"a", "b", "c", "d", "e"}},
	}
	for _, tc := range cases {
		res, err := suite.Storage.Get(suite.ctx, prefix, reststorage.GetOptions{Offset: tc.offset, Count: tc.count})
		c.Assert(err, check.IsNil)
		collection, ok := res.(*reststorage.Collection)
		c.Assert(ok, check.Equals, true)
		c.Assert(collection.Total, check.Equals, 5)
		c.Assert(names(collection), check.DeepEquals, tc.expected, check.Commentf("offset=%d count=%d", tc.offset, tc.count))
	}
}

// TestPutOnCollection tests that a put targeting a collection returns it
// with its listing and leaves it unchanged.
func (suite *DriverSuite) TestPutOnCollection(c *check.C) {
	prefix := "/" + randomString(12)
	suite.put(c, prefix+"/child", []byte("x"))

	res, err := suite.Storage.Put(suite.ctx, prefix, reststorage.PutOptions{})
	c.Assert(err, check.IsNil)
	c.Assert(res, check.FitsTypeOf, &reststorage.Collection{})
	collection := res.(*reststorage.Collection)
	c.Assert(collection.ResourceName(), check.Equals, prefix[1:])
	c.Assert(collection.Items, check.HasLen, 1)
	c.Assert(collection.Items[0].ResourceName(), check.Equals, "child")
	c.Assert(suite.listNames(c, prefix), check.DeepEquals, []string{"child"})
}

// TestPutBelowDocument tests that a document cannot become a collection.
func (suite *DriverSuite) TestPutBelowDocument(c *check.C) {
	filename := randomPath(2)
	suite.put(c, filename, []byte("x"))

	res, err := suite.Storage.Put(suite.ctx, filename+"/child", reststorage.PutOptions{})
	c.Assert(err, check.IsNil)
	c.Assert(res.ResourceStatus().Rejected, check.Equals, true)
	doc, ok := res.(*reststorage.Document)
	c.Assert(ok, check.Equals, true)
	c.Assert(doc.Writer, check.IsNil)

	suite.readCompare(c, filename, []byte("x"))
}

// TestCancelLeavesNoTrace tests that a cancelled upload changes nothing.
func (suite *DriverSuite) TestCancelLeavesNoTrace(c *check.C) {
	prefix := "/" + randomString(12)
	suite.put(c, prefix+"/existing", []byte("previous"))

	for _, target := range []string{prefix + "/existing", prefix + "/fresh"} {
		w := suite.stage(c, target)
		_, err := w.Write([]byte("partial"))
		c.Assert(err, check.IsNil)

		// Staged bytes are not visible before commit.
		if path.Base(target) == "fresh" {
			res, err := suite.Storage.Get(suite.ctx, target, reststorage.AllItems())
			c.Assert(err, check.IsNil)
			c.Assert(res, check.FitsTypeOf, &reststorage.Missing{})
		}

		c.Assert(w.Cancel(suite.ctx), check.IsNil)
		c.Assert(w.Cancel(suite.ctx), check.IsNil)
	}

	suite.readCompare(c, prefix+"/existing", []byte("previous"))
	c.Assert(suite.listNames(c, prefix), check.DeepEquals, []string{"existing"})
}

// TestConcurrentStagingLastCommitWins tests that two uploads to the same
// path stage independently and the last commit wins.
func (suite *DriverSuite) TestConcurrentStagingLastCommitWins(c *check.C) {
	filename := randomPath(2)

	first := suite.stage(c, filename)
	second := suite.stage(c, filename)

	_, err := second.Write([]byte("second"))
	c.Assert(err, check.IsNil)
	_, err = first.Write([]byte("first"))
	c.Assert(err, check.IsNil)

	c.Assert(first.Commit(suite.ctx), check.IsNil)
	suite.readCompare(c, filename, []byte("first"))

	c.Assert(second.Commit(suite.ctx), check.IsNil)
	suite.readCompare(c, filename, []byte("second"))
}

// TestDeleteDocument tests that a deleted document disappears from its
// parent listing.
func (suite *DriverSuite) TestDeleteDocument(c *check.C) {
	prefix := "/" + randomString(12)
	suite.put(c, prefix+"/keep", []byte("k"))
	suite.put(c, prefix+"/drop", []byte("d"))

	res, err := suite.Storage.Delete(suite.ctx, prefix+"/drop", reststorage.DeleteOptions{})
	c.Assert(err, check.IsNil)
	c.Assert(reststorage.Exists(res), check.Equals, true)

	res, err = suite.Storage.Get(suite.ctx, prefix+"/drop", reststorage.AllItems())
	c.Assert(err, check.IsNil)
	c.Assert(res, check.FitsTypeOf, &reststorage.Missing{})
	c.Assert(suite.listNames(c, prefix), check.DeepEquals, []string{"keep"})
}

// TestDeleteNonexistent tests deleting an absent path.
func (suite *DriverSuite) TestDeleteNonexistent(c *check.C) {
	res, err := suite.Storage.Delete(suite.ctx, randomPath(2), reststorage.DeleteOptions{})
	c.Assert(err, check.IsNil)
	c.Assert(res, check.FitsTypeOf, &reststorage.Missing{})
}

// TestDeleteNonEmptyCollection tests the recursive confirmation for
// collections.
func (suite *DriverSuite) TestDeleteNonEmptyCollection(c *check.C) {
	prefix := "/" + randomString(12)
	suite.put(c, prefix+"/col/a", []byte("a"))
	suite.put(c, prefix+"/col/sub/b", []byte("b"))
	suite.put(c, prefix+"/sibling", []byte("s"))

	res, err := suite.Storage.Delete(suite.ctx, prefix+"/col", reststorage.DeleteOptions{ConfirmCollectionDelete: true})
	c.Assert(err, check.IsNil)
	c.Assert(res.ResourceStatus().Error, check.Equals, true)
	c.Assert(res.ResourceStatus().ErrorMessage, check.Equals, reststorage.NonEmptyCollectionMessage)
	suite.readCompare(c, prefix+"/col/sub/b", []byte("b"))

	res, err = suite.Storage.Delete(suite.ctx, prefix+"/col", reststorage.DeleteOptions{ConfirmCollectionDelete: true, DeleteRecursive: true})
	c.Assert(err, check.IsNil)
	c.Assert(res.ResourceStatus().Error, check.Equals, false)

	for _, p := range []string{prefix + "/col", prefix + "/col/a", prefix + "/col/sub/b"} {
		res, err := suite.Storage.Get(suite.ctx, p, reststorage.AllItems())
		c.Assert(err, check.IsNil)
		c.Assert(res, check.FitsTypeOf, &reststorage.Missing{}, check.Commentf(p))
	}
	c.Assert(suite.listNames(c, prefix), check.DeepEquals, []string{"sibling"})
}

// TestDeleteCollectionWithoutConfirmation tests that collections are
// deleted recursively unless confirmation is requested.
func (suite *DriverSuite) TestDeleteCollectionWithoutConfirmation(c *check.C) {
	prefix := "/" + randomString(12)
	suite.put(c, prefix+"/col/a/b", []byte("b"))
	suite.put(c, prefix+"/other", []byte("o"))

	res, err := suite.Storage.Delete(suite.ctx, prefix+"/col", reststorage.DeleteOptions{})
	c.Assert(err, check.IsNil)
	c.Assert(res.ResourceStatus().Error, check.Equals, false)
	c.Assert(suite.listNames(c, prefix), check.DeepEquals, []string{"other"})
}

// TestCleanupOnFreshStorage tests that a sweep without expired resources
// removes nothing.
func (suite *DriverSuite) TestCleanupOnFreshStorage(c *check.C) {
	filename := randomPath(2)
	suite.put(c, filename, []byte("x"))

	result, err := suite.Storage.Cleanup(suite.ctx, 100)
	c.Assert(err, check.IsNil)
	c.Assert(result.CleanedResources, check.Equals, int64(0))
	suite.readCompare(c, filename, []byte("x"))
}

func (suite *DriverSuite) writeReadCompare(c *check.C, filename string, contents []byte) {
	suite.put(c, filename, contents)
	suite.readCompare(c, filename, contents)
}

func (suite *DriverSuite) put(c *check.C, filename string, contents []byte) {
	w := suite.stage(c, filename)
	n, err := io.Copy(w, bytes.NewReader(contents))
	c.Assert(err, check.IsNil)
	c.Assert(n, check.Equals, int64(len(contents)))
	c.Assert(w.Size(), check.Equals, int64(len(contents)))
	c.Assert(w.Commit(suite.ctx), check.IsNil)
}

func (suite *DriverSuite) stage(c *check.C, filename string) reststorage.StagedWriter {
	res, err := suite.Storage.Put(suite.ctx, filename, reststorage.PutOptions{})
	c.Assert(err, check.IsNil)
	doc, ok := res.(*reststorage.Document)
	c.Assert(ok, check.Equals, true, check.Commentf("put %s returned %T", filename, res))
	c.Assert(doc.Writer, check.NotNil)
	return doc.Writer
}

func (suite *DriverSuite) readCompare(c *check.C, filename string, contents []byte) {
	res, err := suite.Storage.Get(suite.ctx, filename, reststorage.AllItems())
	c.Assert(err, check.IsNil)
	doc, ok := res.(*reststorage.Document)
	c.Assert(ok, check.Equals, true, check.Commentf("get %s returned %T", filename, res))
	defer doc.Close()

	readContents, err := io.ReadAll(doc.Reader)
	c.Assert(err, check.IsNil)
	c.Assert(readContents, check.DeepEquals, contents)
	c.Assert(doc.Length, check.Equals, int64(len(contents)))
}

// listNames returns the names of the children of the collection at p, with
// collections suffixed by a slash.
func (suite *DriverSuite) listNames(c *check.C, p string) []string {
	res, err := suite.Storage.Get(suite.ctx, p, reststorage.AllItems())
	c.Assert(err, check.IsNil)
	collection, ok := res.(*reststorage.Collection)
	c.Assert(ok, check.Equals, true, check.Commentf("get %s returned %T", p, res))
	return names(collection)
}

func names(collection *reststorage.Collection) []string {
	out := make([]string, 0, len(collection.Items))
	for _, item := range collection.Items {
		switch item := item.(type) {
		case *reststorage.Collection:
			out = append(out, item.Name+"/")
		case *reststorage.Document:
			out = append(out, item.Name)
		case *reststorage.Missing:
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

var filenameChars = []byte("abcdefghijklmnopqrstuvwxyz0123456789")

func randomString(length int64) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = filenameChars[rand.Intn(len(filenameChars))]
	}
	return string(b)
}

func randomPath(depth int) string {
	p := ""
	for i := 0; i < depth; i++ {
		p += "/" + randomString(12)
	}
	return p
}

func randomContents(length int64) []byte {
	b := make([]byte, length)
	for i := range b {
		b[i] = byte(rand.Intn(256))
	}
	return b
}
