/*
Package fedsig provides primitives for building applications on a federated
signature blockchain. The descriptor package parses output script descriptors
and expands them into the locking scripts a wallet needs to watch or sign for.

A descriptor is parsed against a network; pass nil to use the production
parameters.
	materials := descriptor.NewSigningMaterials()
	desc, err := descriptor.Parse(
		"sh(wpkh(xprv9vHkqa6EV4sPZHYqZznhT2NPtPCjKuDKGY38FBWLvgaDx45zo9WQRUT3dKYnjwih2yJD9mkrocEZXo1ex8G81dwSM1fwqWpWkeS3v86pgKt/1/2/*))",
		materials, &network.Prod,
	)
	if err != nil {
		return err
	}
Private keys found while parsing are collected into the SigningMaterials; the
descriptor itself only ever holds public material, so its String form is
always shareable.
	fmt.Println(desc.String()) // sh(wpkh(xpub69H7F5d8KSRgmmd.../1/2/*))
A ranged descriptor produces a different script per index. Expanding also
records any intermediate redeem or witness scripts in the materials, keyed by
their script hash, so a signer can find them later.
	scripts, err := desc.Expand(7, materials)
	if err != nil {
		return err
	}
The private form can be recovered as long as the materials hold the keys,
for example to back up a watch-only wallet's signing counterpart.
	prv, err := desc.ToPrivateString(materials)
	if err != nil {
		return err
	}
*/
package fedsig
