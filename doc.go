/*
Package emustream streams and mixes audio of emulated sound modules.

Concept

Every emulator instance runs in its own goroutine locked to an OS thread
and produces frames into a single-producer single-consumer ring. Output
backends drain the rings from the device thread and mix them into the
device buffer:

    emulator -> instance -> ring -> backend -> device

The offline renderer uses the same emulators without rings: a sequence is
split across instances by MIDI channel, every instance simulates its part
in parallel and the results are mixed in a fixed order, so the output is
byte identical regardless of scheduling.

Packages

    signal    frames, formats, conversion and mixing rules
    ring      SPSC ring buffer and typed stream overlays
    instance  emulator producers and the instance pool
    output    backend contract and the shared mixing core
    midi      message routing between instances
    smf       Standard MIDI File reader
    render    deterministic parallel offline renderer
    wav, mp3  container writers
    psg       reference emulator built on a PSG chip core
*/
package emustream
