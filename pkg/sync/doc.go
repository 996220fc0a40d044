/*
The sync package implements CodeLift's file synchronization algorithm. It
installs the files of a staged release into a live installation without
clobbering edits that the operator made to the installed copy.

There are three versions of every file:
1) StagedFiles -- The files delivered by the new release, extracted into a
   staging directory.
2) InstalledFiles -- The files currently in the installation. The operator may
   have edited these since the last update.
3) TrackedFiles -- The fingerprints of the files as they were left by the last
   update. These are persisted in the tracking manifest.

A staged file is only copied over the installed file if the installed file
still matches what the last update left behind. If the operator changed it,
the installed file is kept and its fingerprint becomes the new baseline.

The sync algorithm only deals with files. Directories are created as needed
when files are copied, and files that are no longer part of the release are
left in place.
*/
package sync
