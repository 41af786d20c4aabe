// Package img reads, indexes, mutates and rebuilds sector-addressed archives.
//
// An archive is a single file made of an 8-byte header (a 4-byte format tag
// and an entry count), a directory of 32-byte records, and payloads stored
// in 2048-byte sectors:
//
//	offset 0   tag[4] count:uint32le
//	offset 8   count × { sector:uint32le sectors:uint16le size:uint16le name[24] }
//	...        sector-aligned payloads
//
// # Usage
//
//	a, err := img.Open("gta3.img")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	data, err := a.ExtractToMemory("infernus.dff")
//
// Mutations are buffered and only reach the file on Save:
//
//	_ = a.Replace("infernus.dff", newModel)
//	_ = a.Delete("unused.txd")
//	_ = a.Add("extra.col", collision)
//	stats, err := a.Save()
//	for _, name := range img.RejectedNames(err) {
//	    a.Cancel(name) // drop names the new directory cannot hold
//	}
//
// Save builds the complete new image in a scratch buffer, copying every
// surviving payload forward, before it overwrites the live file. A failure
// while building leaves the file untouched; a failure while writing it back
// is reported as ErrSaveFailed with the queued changes kept for a retry.
//
// An Archive is not safe for concurrent use. By default it holds an
// exclusive advisory lock on its file until Close.
package img
