// Package repository selects and reads the source files of a checked-out
// repository.
//
// A Collector walks a workspace, keeps files whose names end with one of the
// allowed extensions and reads them as text. Bytes that are not valid UTF-8
// are replaced with U+FFFD instead of failing the file. A file that cannot
// be read is logged and skipped; it never aborts the walk.
//
// # Ordering
//
// Entries are visited in lexical order within each directory, so repeated
// runs over the same tree produce the same sequence.
//
// # Usage
//
//	c := repository.NewCollector(logger)
//	files, err := c.Collect(ctx, ws.Root, repository.DefaultExtensions())
//	if err != nil {
//	    return err
//	}
//	for _, f := range files {
//	    fmt.Println(f.RelPath, f.Language)
//	}
package repository
