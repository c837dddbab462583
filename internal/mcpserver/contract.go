package mcpserver

// PackageFormatContract describes the studio package layout that the
// download_package tool writes and upload_package reads.
const PackageFormatContract = `# Studio Package Format

A studio package is one flat directory. Its root carries ` + "`chili-package.json`" + `:

` + "```" + `json
{
  "engineVersion": "1.2.0",
  "source": "https://env.example/grafx/api/v1/environment/env",
  "documents": [
    {
      "id": "doc-1",
      "name": "Flyer",
      "filePath": "doc-1.json",
      "smartCrops": { "filePath": "smart-crops.json" },
      "fonts": [
        { "filePath": "Roboto-Regular.ttf", "details": { "id": "style-1", "familyName": "Roboto", "name": "Regular" } }
      ]
    }
  ]
}
` + "```" + `

## Rules

1. ` + "`engineVersion`" + `, ` + "`source`" + ` and ` + "`documents`" + ` are required. ` + "`name`" + ` may be null.
2. Every ` + "`filePath`" + ` is relative to the manifest and must exist in the package.
3. Only the first document is uploaded.
4. ` + "`smart-crops.json`" + ` records the source connector by id and name; upload asks for a
   destination media connector and suggests the one with the same name.
5. Document connectors whose source is ` + "`grafx`" + ` with an id must be mapped to connectors of the
   destination environment before the document is loaded. Names are matched automatically when
   exactly one connector carries the same name.
6. Fonts that already exist in the destination environment are skipped.

## Download folder names

Letters, digits, spaces, ` + "`-`" + ` and ` + "`_`" + ` only.
`
